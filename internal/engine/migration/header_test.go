package migration

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

var generatedAt = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func TestRenderHeaderGolden(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	g.Assert(t, "header_up", []byte(RenderHeader(HeaderFields{
		Direction:   DirectionUp,
		GeneratedAt: generatedAt,
		Name:        "add users table",
		Description: "creates the users table",
	})))

	g.Assert(t, "header_down_backup", []byte(RenderHeader(HeaderFields{
		Direction:   DirectionDown,
		GeneratedAt: generatedAt,
		Name:        "backup-1709993107000",
		Backup:      true,
	})))
}

func TestRenderHeaderFoldsNewlines(t *testing.T) {
	header := RenderHeader(HeaderFields{
		Direction:   DirectionUp,
		GeneratedAt: generatedAt,
		Name:        "first\nsecond",
		Description: "line one\r\nline two",
	})
	h := ParseHeader(header)
	assert.Equal(t, "first second", h.Name)
	assert.Equal(t, "line one line two", h.Description)
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Header
	}{
		{
			name: "generated",
			content: RenderHeader(HeaderFields{
				Direction:   DirectionUp,
				GeneratedAt: generatedAt,
				Name:        "orders",
				Backup:      true,
				Description: "adds orders",
			}) + "CREATE TABLE orders (id int);\n",
			want: Header{Name: "orders", Description: "adds orders", Backup: true},
		},
		{
			name:    "no header",
			content: "CREATE TABLE orders (id int);\n",
			want:    Header{},
		},
		{
			name:    "crlf",
			content: "-- Name: windows\r\n-- Backup: TRUE\r\n-- -- --\r\nSELECT 1;",
			want:    Header{Name: "windows", Backup: true},
		},
		{
			name:    "metadata in body is ignored",
			content: "-- -- --\n-- Name: not a header\n",
			want:    Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHeader(tt.content))
		})
	}
}

func TestChecksum(t *testing.T) {
	body := "\nCREATE TABLE users (id serial primary key);\n"

	t.Run("ignores header", func(t *testing.T) {
		a := RenderHeader(HeaderFields{Direction: DirectionUp, GeneratedAt: generatedAt, Name: "a"}) + body
		b := RenderHeader(HeaderFields{Direction: DirectionUp, GeneratedAt: generatedAt.Add(time.Hour), Name: "b"}) + body
		assert.Equal(t, Checksum(a), Checksum(b))
	})

	t.Run("sha1 of body", func(t *testing.T) {
		assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Checksum("-- -- --"))
		assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", Checksum(""))
	})

	t.Run("whole content without terminator", func(t *testing.T) {
		assert.Equal(t, Checksum(HeaderTerminator+body), Checksum(body))
	})

	t.Run("body change", func(t *testing.T) {
		assert.NotEqual(t, Checksum(HeaderTerminator+body), Checksum(HeaderTerminator+body+"-- more\n"))
	})
}

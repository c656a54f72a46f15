package migration

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// HeaderTerminator separates the generated header from the migration body.
const HeaderTerminator = "-- -- --"

const (
	headerName        = "-- Name: "
	headerDescription = "-- Description: "
	headerBackup      = "-- Backup: "

	timestampLayout = "2006-01-02 15:04:05"
)

// Direction of a migration script.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// HeaderFields are substituted into a generated file header.
type HeaderFields struct {
	Direction   Direction
	GeneratedAt time.Time
	Name        string
	Backup      bool
	Description string
}

// RenderHeader returns the header block a generated migration file starts with.
func RenderHeader(f HeaderFields) string {
	backup := "false"
	if f.Backup {
		backup = "true"
	}

	var b strings.Builder
	b.WriteString("-- Migration type: " + string(f.Direction) + "\n")
	b.WriteString("-- Generated at: " + f.GeneratedAt.Format(timestampLayout) + "\n")
	b.WriteString(headerName + singleLine(f.Name) + "\n")
	b.WriteString(headerBackup + backup + "\n")
	b.WriteString(headerDescription + singleLine(f.Description) + "\n")
	b.WriteString("-- This file is generated. Do not remove the header!\n")
	b.WriteString(HeaderTerminator + "\n")
	return b.String()
}

// Header holds the metadata parsed back out of a script.
type Header struct {
	Name        string
	Description string
	Backup      bool
}

// ParseHeader extracts metadata lines. Missing lines yield zero values.
func ParseHeader(content string) Header {
	var h Header
	head, _, found := strings.Cut(content, HeaderTerminator)
	if !found {
		head = content
	}
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, headerName):
			h.Name = strings.TrimSpace(strings.TrimPrefix(line, headerName))
		case strings.HasPrefix(line, headerDescription):
			h.Description = strings.TrimSpace(strings.TrimPrefix(line, headerDescription))
		case strings.HasPrefix(line, headerBackup):
			h.Backup = strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(line, headerBackup)), "true")
		}
	}
	return h
}

// Body returns the content after the header terminator, or all of it when
// there is no header.
func Body(content string) string {
	if _, body, found := strings.Cut(content, HeaderTerminator); found {
		return body
	}
	return content
}

// Checksum is the hex SHA-1 of the script body.
func Checksum(content string) string {
	sum := sha1.Sum([]byte(Body(content)))
	return hex.EncodeToString(sum[:])
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

package cookies

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Header is the magic first line of a Netscape cookie file. curl, yt-dlp and
// the bot's cookie loader all refuse files without it.
const Header = "# Netscape HTTP Cookie File"

const (
	generatorLine  = "# This file was generated by cookiekeeper. Do not edit."
	httpOnlyPrefix = "#HttpOnly_"
	fieldCount     = 7
)

// ErrMalformedArtifact reports an encoded artifact that cannot be decoded back
// into cookies.
var ErrMalformedArtifact = errors.New("malformed cookie artifact")

// MarshalNetscape serializes cookies into the Netscape cookie file format, one
// cookie per line, in the order given.
func MarshalNetscape(cs []Cookie) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Header + "\n")
	buf.WriteString(generatorLine + "\n\n")

	for i, c := range cs {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("cookie %d: %w", i, err)
		}
		domain := c.Domain
		if c.HTTPOnly {
			domain = httpOnlyPrefix + domain
		}
		fields := []string{
			domain,
			formatBool(c.IncludeSubdomains()),
			c.Path,
			formatBool(c.Secure),
			strconv.FormatInt(c.Expires, 10),
			c.Name,
			c.Value,
		}
		buf.WriteString(strings.Join(fields, "\t"))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ParseNetscape is the inverse of MarshalNetscape. Comment and blank lines are
// skipped; every other line must carry exactly seven tab-separated fields.
func ParseNetscape(data []byte) ([]Cookie, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("%w: empty cookie file", ErrMalformedArtifact)
	}
	if first := strings.TrimPrefix(strings.TrimRight(scanner.Text(), "\r"), "\ufeff"); first != Header {
		return nil, fmt.Errorf("%w: header mismatch: %q", ErrMalformedArtifact, first)
	}

	cs := make([]Cookie, 0, 32)
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			httpOnly = true
			line = strings.TrimPrefix(line, httpOnlyPrefix)
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		c, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedArtifact, lineNo, err)
		}
		c.HTTPOnly = httpOnly
		cs = append(cs, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	return cs, nil
}

func parseLine(line string) (Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != fieldCount {
		return Cookie{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}
	includeSubdomains, err := parseBool(fields[1])
	if err != nil {
		return Cookie{}, fmt.Errorf("include-subdomains flag: %w", err)
	}
	secure, err := parseBool(fields[3])
	if err != nil {
		return Cookie{}, fmt.Errorf("secure flag: %w", err)
	}
	expires, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil || expires < 0 {
		return Cookie{}, fmt.Errorf("invalid expiry %q", fields[4])
	}
	c := Cookie{
		Domain:  fields[0],
		Path:    fields[2],
		Secure:  secure,
		Expires: expires,
		Name:    fields[5],
		Value:   fields[6],
	}
	if c.IncludeSubdomains() != includeSubdomains {
		return Cookie{}, fmt.Errorf("include-subdomains flag disagrees with domain %q", c.Domain)
	}
	if c.Name == "" || c.Domain == "" {
		return Cookie{}, fmt.Errorf("empty name or domain")
	}
	return c, nil
}

// Encode produces the transport form of a cookie jar: the Netscape file,
// base64 encoded so it fits in a single environment variable.
func Encode(cs []Cookie) (string, error) {
	raw, err := MarshalNetscape(cs)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. Surrounding whitespace in the blob is ignored.
func Decode(blob string) ([]Cookie, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedArtifact, err)
	}
	return ParseNetscape(raw)
}

func formatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	}
	return false, fmt.Errorf("expected TRUE or FALSE, got %q", s)
}

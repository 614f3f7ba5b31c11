package credstore

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFile is the bot's configuration surface: a dotenv file whose managed key
// carries the encoded cookie jar. Every other line is preserved byte for byte.
type EnvFile struct {
	Path string
	Key  string
	// ChunkSize splits the value across KEY_1..KEY_N when positive. Some hosting
	// panels cap the length of a single variable.
	ChunkSize int
}

var assignmentKey = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_.]*)\s*[=:]`)

// managed reports whether key is the published key or one of its chunks.
func (e EnvFile) managed(key string) bool {
	if key == e.Key {
		return true
	}
	suffix, ok := strings.CutPrefix(key, e.Key+"_")
	if !ok || suffix == "" {
		return false
	}
	_, err := strconv.Atoi(suffix)
	return err == nil
}

// assignments renders the KEY=value lines for an encoded value.
func (e EnvFile) assignments(encoded string) []string {
	if e.ChunkSize <= 0 {
		return []string{e.Key + "=" + encoded}
	}
	var lines []string
	for i := 1; ; i++ {
		n := min(e.ChunkSize, len(encoded))
		lines = append(lines, e.Key+"_"+strconv.Itoa(i)+"="+encoded[:n])
		encoded = encoded[n:]
		if encoded == "" {
			break
		}
	}
	return lines
}

// Render rewrites existing dotenv content so the managed assignments carry
// encoded. The new assignments take the position of the first managed line, or
// are appended when the key was never published.
func (e EnvFile) Render(existing []byte, encoded string) []byte {
	var out bytes.Buffer
	inserted := false
	newLines := e.assignments(encoded)

	content := string(existing)
	if content != "" {
		for _, line := range strings.SplitAfter(content, "\n") {
			if line == "" {
				continue
			}
			if m := assignmentKey.FindStringSubmatch(line); m != nil && e.managed(m[1]) {
				if !inserted {
					for _, l := range newLines {
						out.WriteString(l + "\n")
					}
					inserted = true
				}
				continue
			}
			out.WriteString(line)
		}
	}
	if !inserted {
		if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
			out.WriteByte('\n')
		}
		for _, l := range newLines {
			out.WriteString(l + "\n")
		}
	}
	return out.Bytes()
}

// envSnapshot is the env file as it was before a publish.
type envSnapshot struct {
	data    []byte
	perm    fs.FileMode
	existed bool
}

// Publish atomically replaces the env file with the managed key set to encoded.
// The file keeps its mode; a new file is created owner-only.
func (e EnvFile) Publish(encoded string) error {
	staged, _, err := e.stage(encoded)
	if err != nil {
		return err
	}
	return staged.publish()
}

// stage renders the new env file next to the current one and returns the
// current content so a caller can put it back.
func (e EnvFile) stage(encoded string) (*stagedFile, envSnapshot, error) {
	prev := envSnapshot{perm: 0o600}
	existing, err := os.ReadFile(e.Path)
	switch {
	case err == nil:
		prev.data, prev.existed = existing, true
		if info, statErr := os.Stat(e.Path); statErr == nil {
			prev.perm = info.Mode().Perm()
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, prev, fmt.Errorf("reading env file: %w", err)
	}

	rendered := e.Render(existing, encoded)
	// Make sure the result still parses the way the bot will parse it.
	if _, err := godotenv.Unmarshal(string(rendered)); err != nil {
		return nil, prev, fmt.Errorf("rendered env file does not parse: %w", err)
	}
	staged, err := stageFile(e.Path, rendered, prev.perm)
	if err != nil {
		return nil, prev, err
	}
	return staged, prev, nil
}

// restore puts the env file back to snap.
func (e EnvFile) restore(snap envSnapshot) error {
	if !snap.existed {
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return writeFileAtomic(e.Path, snap.data, snap.perm)
}

// PublishedValue returns the encoded value as the bot reads it: chunks KEY_1,
// KEY_2, ... joined when present, otherwise the single KEY. The boolean is false
// when neither is set.
func (e EnvFile) PublishedValue() (string, bool, error) {
	values, err := godotenv.Read(e.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading env file: %w", err)
	}
	return e.lookup(values)
}

func (e EnvFile) lookup(values map[string]string) (string, bool, error) {
	if first, ok := values[e.Key+"_1"]; ok && first != "" {
		var b strings.Builder
		b.WriteString(first)
		for i := 2; ; i++ {
			part, ok := values[e.Key+"_"+strconv.Itoa(i)]
			if !ok || part == "" {
				break
			}
			b.WriteString(part)
		}
		return b.String(), true, nil
	}
	v, ok := values[e.Key]
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// Package config reads the proxy's sectioned key/value configuration
// file.
//
// The grammar is a simplified INI dialect: a section header is
// `[<name>]`; a value line is `"<name>"="<value>"` (quotes are optional
// around either field); a line whose first non-whitespace character is
// `#` is a comment; a blank line ends the current section. Names compare
// case-insensitively, and the same name may repeat within one section —
// callers that want every occurrence use Enumerate rather than Get*.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/vkardon/tcproxy/internal/perr"
)

type entry struct {
	name  string
	value string
}

// Config holds the parsed contents of a configuration file in memory.
type Config struct {
	path     string
	sections map[string][]entry // keyed by lower-cased section name
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.Wrap(err, "open config file")
	}
	defer f.Close()

	c := &Config{path: path, sections: make(map[string][]entry)}

	var current string
	inSection := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			inSection = false
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			inSection = true
			continue
		}
		if !inSection {
			continue
		}

		name, value, ok := parseKV(line)
		if !ok {
			continue
		}
		c.sections[current] = append(c.sections[current], entry{
			name:  strings.ToLower(name),
			value: value,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, perr.Wrap(err, "read config file")
	}

	return c, nil
}

// parseKV splits a `"name"="value"` line (quotes optional on either side)
// into its name and value, trimming a single matching pair of double
// quotes from each.
func parseKV(line string) (name, value string, ok bool) {
	i := strings.IndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}
	name = unquote(strings.TrimSpace(line[:i]))
	value = unquote(strings.TrimSpace(line[i+1:]))
	return name, value, true
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func (c *Config) find(section, name string) (string, bool) {
	section = strings.ToLower(section)
	name = strings.ToLower(name)
	for _, e := range c.sections[section] {
		if e.name == name {
			return e.value, true
		}
	}
	return "", false
}

// GetString returns the first value of name within section.
func (c *Config) GetString(section, name string) (string, bool) {
	return c.find(section, name)
}

// GetInt returns the first value of name within section, parsed as an
// integer.
func (c *Config) GetInt(section, name string) (int, bool) {
	v, ok := c.find(section, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetBool returns the first value of name within section, parsed as
// "true"/"false" (case-insensitive).
func (c *Config) GetBool(section, name string) (bool, bool) {
	v, ok := c.find(section, name)
	if !ok {
		return false, false
	}
	switch strings.ToLower(v) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// Enumerate calls visit once for every occurrence of name within section,
// in file order, stopping early if visit returns false.
func (c *Config) Enumerate(section, name string, visit func(value string) bool) {
	section = strings.ToLower(section)
	name = strings.ToLower(name)
	for _, e := range c.sections[section] {
		if e.name != name {
			continue
		}
		if !visit(e.value) {
			return
		}
	}
}

// SetString updates (or appends) the first occurrence of name within
// section. The change is held in memory only; call Save to write it to
// the file. It is a collaborator for
// future operator tooling; the core engine only reads configuration.
func (c *Config) SetString(section, name, value string) {
	section = strings.ToLower(section)
	name = strings.ToLower(name)
	for i, e := range c.sections[section] {
		if e.name == name {
			c.sections[section][i].value = value
			return
		}
	}
	c.sections[section] = append(c.sections[section], entry{name: name, value: value})
}

// Save rewrites the configuration file atomically: it writes a sibling
// temp file, renames the existing file to a backup, renames the temp
// file into place, and unlinks the backup on success. On failure it
// restores the backup so the original file is never left missing.
func (c *Config) Save() error {
	tmpPath := c.path + ".tmp"
	backupPath := c.path + ".bak"

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return perr.Wrap(err, "create temp config file")
	}

	w := bufio.NewWriter(tmp)
	for section, entries := range c.sections {
		fmt.Fprintf(w, "[%s]\n", section)
		for _, e := range entries {
			fmt.Fprintf(w, "%q=%q\n", e.name, e.value)
		}
		fmt.Fprintln(w)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return perr.Wrap(err, "write temp config file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return perr.Wrap(err, "close temp config file")
	}

	if err := os.Rename(c.path, backupPath); err != nil {
		os.Remove(tmpPath)
		return perr.Wrap(err, "back up config file")
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Rename(backupPath, c.path) // restore from backup
		return perr.Wrap(err, "install new config file")
	}

	os.Remove(backupPath)
	return nil
}

package lifecycle

import (
	"path/filepath"
	"strings"
)

// BaseName derives the program's base name the way the original does:
// the final path component of argv[0], with everything from the first
// "." onward stripped (so "tcproxy.exe" and "tcproxy.linux" both yield
// "tcproxy"). Used to build the FIFO and lock-file paths (§6).
func BaseName(argv0 string) string {
	name := filepath.Base(argv0)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

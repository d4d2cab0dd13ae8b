package dataset

import (
	"strconv"
	"strings"
)

// nameSet hands out file names that are unique within one archive.
// Stems are unique too, because each image shares its stem with a label file.
type nameSet struct {
	stems map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{stems: map[string]bool{}}
}

// unique returns stem+ext, or stem_1+ext, stem_2+ext... if the stem is taken.
// ext comes from the name, or fallbackExt when the name has none.
func (s *nameSet) unique(name, fallbackExt string) string {
	if name == "" {
		name = "image"
	}
	stem, ext := splitName(name)
	if stem == "" {
		stem = "image"
	}
	if ext == "" {
		ext = fallbackExt
	}
	candidate := stem
	for i := 1; s.stems[candidate]; i++ {
		candidate = stem + "_" + strconv.Itoa(i)
	}
	s.stems[candidate] = true
	return candidate + ext
}

// splitName splits the last path element of name into stem and extension.
// A leading dot does not start an extension, and neither does a trailing one,
// so ".env" has no extension and "a." has stem "a.".
func splitName(name string) (stem, ext string) {
	name = strings.TrimRight(name, "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i > 0 && i < len(name)-1 {
		return name[:i], name[i:]
	}
	return name, ""
}

package jmod

import "strconv"

// Section identifies one of the fixed groups of files inside a container.
type Section uint8

// Sections in declaration order.
const (
	NativeLibs Section = iota
	NativeCmds
	Classes
	Config
	HeaderFiles
	ManPages

	numSections
)

// sectionDirs holds the on-disk directory of each section, indexed by Section.
var sectionDirs = [numSections]string{
	NativeLibs:  "native",
	NativeCmds:  "bin",
	Classes:     "classes",
	Config:      "conf",
	HeaderFiles: "include",
	ManPages:    "man",
}

var sectionNames = [numSections]string{
	NativeLibs:  "NATIVE_LIBS",
	NativeCmds:  "NATIVE_CMDS",
	Classes:     "CLASSES",
	Config:      "CONFIG",
	HeaderFiles: "HEADER_FILES",
	ManPages:    "MAN_PAGES",
}

// Sections returns every section in declaration order.
func Sections() []Section {
	out := make([]Section, 0, numSections)
	for s := range numSections {
		out = append(out, s)
	}
	return out
}

// Dir returns the directory prefix under which the section's entries are stored.
// It returns "" for values outside the enumeration.
func (s Section) Dir() string {
	if !s.Valid() {
		return ""
	}
	return sectionDirs[s]
}

// Valid reports whether s is one of the declared sections.
func (s Section) Valid() bool {
	return s < numSections
}

func (s Section) String() string {
	if !s.Valid() {
		return "Section(" + strconv.Itoa(int(s)) + ")"
	}
	return sectionNames[s]
}

// ParseSection returns the section stored under dir.
func ParseSection(dir string) (Section, error) {
	for _, s := range Sections() {
		if sectionDirs[s] == dir {
			return s, nil
		}
	}
	return 0, &UnknownSectionError{Dir: dir}
}

// ParseSectionName returns the section with the given upper-case identifier
// (for example "CLASSES") or directory prefix (for example "classes").
func ParseSectionName(name string) (Section, error) {
	for s, n := range sectionNames {
		if n == name {
			return Section(s), nil
		}
	}
	return ParseSection(name)
}

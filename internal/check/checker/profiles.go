package checker

// profile is the preset a compiler kind starts from.
type profile struct {
	language    string
	binary      string
	flags       string
	outputFlags string
	pattern     string
	// mainClass reports the program as the main class name instead of a binary path.
	mainClass bool
}

var profiles = map[Kind]profile{
	KindC: {
		language:    "C",
		binary:      "gcc",
		flags:       "-Wall",
		outputFlags: "-o %s",
		pattern:     `^[a-zA-Z0-9_]*\.[cC]$`,
	},
	KindCXX: {
		language:    "C++",
		binary:      "c++",
		flags:       "-Wall",
		outputFlags: "-o %s",
		pattern:     `^[a-zA-Z0-9_]*\.(cpp|cc|cxx|C)$`,
	},
	KindJava: {
		language:  "Java",
		binary:    "javac",
		pattern:   `^[a-zA-Z0-9_]*\.java$`,
		mainClass: true,
	},
	KindFortran: {
		language:    "Fortran",
		binary:      "g77",
		outputFlags: "-o %s",
		pattern:     `^[a-zA-Z0-9_]*\.[fF]$`,
	},
	KindCompiler: {
		language: "generic",
	},
}

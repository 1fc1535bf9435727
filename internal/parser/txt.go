package parser

type txtParser struct{}

func (txtParser) CanParse(filename string) bool {
	return hasSuffix(filename, ".txt", ".text", ".log")
}

func (txtParser) Parse(content []byte) (string, error) {
	return normalizeNewlines(string(content)), nil
}

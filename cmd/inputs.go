package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/KaramelBytes/docloom-embed/internal/parser"
	"github.com/KaramelBytes/docloom-embed/internal/pipeline"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

const stdinName = "stdin"

// loadInputs extracts text from files, directories (walked for supported
// formats) and "-" for stdin. Document ids are absolute paths so that
// re-indexing the same file reuses its vectors.
func loadInputs(args []string, stdin io.Reader) ([]pipeline.Document, error) {
	var docs []pipeline.Document
	for _, arg := range args {
		if arg == "-" {
			b, err := utils.ReadInput(arg, stdin)
			if err != nil {
				return nil, err
			}
			text, err := parser.ParseBytes(stdinName+".txt", b)
			if err != nil {
				return nil, err
			}
			docs = append(docs, pipeline.Document{ID: stdinName, Name: stdinName, Text: text})
			continue
		}
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			d, err := loadFile(arg)
			if err != nil {
				return nil, err
			}
			docs = append(docs, d)
			continue
		}
		var files []string
		err = filepath.WalkDir(arg, func(path string, e fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !e.IsDir() && parser.Supported(e.Name()) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
		sort.Strings(files)
		for _, f := range files {
			d, err := loadFile(f)
			if err != nil {
				log.Warn().Err(err).Str("path", f).Msg("skipping document")
				continue
			}
			docs = append(docs, d)
		}
	}
	return docs, nil
}

func loadFile(path string) (pipeline.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("resolve path: %w", err)
	}
	text, err := parser.ParseFile(abs)
	if err != nil {
		return pipeline.Document{}, err
	}
	return pipeline.Document{ID: abs, Name: filepath.Base(abs), Text: text}, nil
}

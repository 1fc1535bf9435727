package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/tokens"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

var (
	tokensTruncate int
	tokensJSON     bool
	tokensField    string
)

type tokenReport struct {
	Encoding  string         `json:"encoding"`
	Documents map[string]int `json:"documents"`
	Total     int            `json:"total"`
}

var tokensCmd = &cobra.Command{
	Use:   "tokens <file|dir|->...",
	Short: "Count tokens in documents",
	Long: `Extract text from each input and count its tokens with the configured
encoding. With --truncate, print each document cut to at most N tokens
instead of the counts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		counter := newCounter(c)
		defer counter.Close()
		if tokensField != "" {
			return countField(cmd, counter, args)
		}

		docs, err := loadInputs(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cmd.Flags().Changed("truncate") {
			if tokensTruncate < 0 {
				return fmt.Errorf("--truncate must be >= 0")
			}
			for _, d := range docs {
				s, err := counter.Truncate(d.Text, tokensTruncate)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			}
			return nil
		}

		sections := make(map[string]string, len(docs))
		for _, d := range docs {
			sections[d.ID] = d.Text
		}
		counts, err := counter.Breakdown(sections)
		if err != nil {
			return err
		}
		rep := tokenReport{Encoding: string(counter.Encoding()), Documents: counts}
		for _, n := range counts {
			rep.Total += n
		}
		if tokensJSON {
			return writeJSON(out, rep)
		}
		for _, d := range docs {
			fmt.Fprintf(out, "- %s: %d tokens\n", d.Name, counts[d.ID])
		}
		fmt.Fprintf(out, "Total: %d tokens (%s)\n", rep.Total, rep.Encoding)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokensCmd)
	tokensCmd.Flags().IntVar(&tokensTruncate, "truncate", 0, "print each document truncated to N tokens")
	tokensCmd.Flags().BoolVar(&tokensJSON, "json", false, "print counts as JSON")
	tokensCmd.Flags().StringVar(&tokensField, "field", "", "treat inputs as JSON records and count this string field")
}

// countField counts one field of a JSON object or array of objects per
// input. Non-string values are rejected.
func countField(cmd *cobra.Command, counter *tokens.Counter, args []string) error {
	rep := tokenReport{Encoding: string(counter.Encoding()), Documents: map[string]int{}}
	for _, arg := range args {
		b, err := utils.ReadInput(arg, cmd.InOrStdin())
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("%s: decode json: %w", arg, err)
		}
		records, ok := v.([]any)
		if !ok {
			records = []any{v}
		}
		n := 0
		for i, r := range records {
			obj, ok := r.(map[string]any)
			if !ok {
				return fmt.Errorf("%s: record %d is not an object", arg, i)
			}
			val, ok := obj[tokensField]
			if !ok {
				return fmt.Errorf("%s: record %d has no field %q", arg, i, tokensField)
			}
			k, err := counter.CountValue(val)
			if err != nil {
				return fmt.Errorf("%s: record %d: %w", arg, i, err)
			}
			n += k
		}
		rep.Documents[arg] = n
		rep.Total += n
	}
	out := cmd.OutOrStdout()
	if tokensJSON {
		return writeJSON(out, rep)
	}
	for _, arg := range args {
		fmt.Fprintf(out, "- %s: %d tokens\n", arg, rep.Documents[arg])
	}
	fmt.Fprintf(out, "Total: %d tokens (%s)\n", rep.Total, rep.Encoding)
	return nil
}

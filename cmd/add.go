package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/project"
)

var (
	addProjectName string
	addDocDesc     string
)

var addCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Add documents to a project",
	Long: `Extract and cache documents in a project. Adding a path that is already
part of the project refreshes its text and keeps its id, so 'index' only
re-embeds the chunks that changed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addProjectName == "" {
			return fmt.Errorf("--project is required")
		}
		c, err := requireConfig()
		if err != nil {
			return err
		}
		projDir, err := resolveProjectDirByName(addProjectName)
		if err != nil {
			return err
		}
		p, err := project.LoadProject(projDir)
		if err != nil {
			return err
		}
		counter := newCounter(c)
		defer counter.Close()
		for _, file := range args {
			d, err := p.AddDocument(file, addDocDesc, counter)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Document added: %s (%d tokens)\n", d.Name, d.Tokens)
		}
		return p.Save()
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVarP(&addProjectName, "project", "p", "", "project name")
	addCmd.Flags().StringVar(&addDocDesc, "desc", "", "document description")
}

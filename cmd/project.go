package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/project"
)

var pmProject string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage per-project settings and documents",
}

func loadNamedProject() (*project.Project, error) {
	if pmProject == "" {
		return nil, fmt.Errorf("--project is required")
	}
	dir, err := resolveProjectDirByName(pmProject)
	if err != nil {
		return nil, err
	}
	return project.LoadProject(dir)
}

var projectSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Set or clear a project setting",
	Long: fmt.Sprintf(`Override a global setting for one project. Omit the value to clear the
override. Keys: %v`, project.SettingKeys),
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadNamedProject()
		if err != nil {
			return err
		}
		val := ""
		if len(args) == 2 {
			val = args[1]
		}
		if err := p.Settings.Set(args[0], val); err != nil {
			return err
		}
		if err := p.Save(); err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %s for %s\n", args[0], pmProject)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Set %s for %s: %s\n", args[0], pmProject, val)
		}
		return nil
	},
}

var projectShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a project's settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadNamedProject()
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), p.Settings)
	},
}

var projectRemoveDocCmd = &cobra.Command{
	Use:   "remove-doc <id|name>",
	Short: "Remove a document from a project",
	Long: `Remove a document from a project. Its vectors stay in the index until the
next 'index --prune'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadNamedProject()
		if err != nil {
			return err
		}
		d, err := p.RemoveDocument(args[0])
		if err != nil {
			return err
		}
		if err := p.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Removed %s (%s)\n", d.Name, d.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectSetCmd, projectShowCmd, projectRemoveDocCmd)
	projectCmd.PersistentFlags().StringVarP(&pmProject, "project", "p", "", "project name")
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/project"
)

var (
	listProjects bool
	listDocs     bool
	listProjName string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects or documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listProjects == listDocs { // either both true or both false
			return fmt.Errorf("specify exactly one of --projects or --docs")
		}
		out := cmd.OutOrStdout()
		if listProjects {
			return listAllProjects(out)
		}
		if listProjName == "" {
			return fmt.Errorf("--project is required when using --docs")
		}
		projDir, err := resolveProjectDirByName(listProjName)
		if err != nil {
			return err
		}
		p, err := project.LoadProject(projDir)
		if err != nil {
			return err
		}
		if len(p.Documents) == 0 {
			fmt.Fprintln(out, "(no documents)")
			return nil
		}
		for _, d := range p.SortedDocuments() {
			stale := ""
			if info, err := os.Stat(d.Path); err == nil && d.Stale(info.ModTime()) {
				stale = " [changed on disk]"
			}
			fmt.Fprintf(out, "- %s: %s, %d tokens (%s)%s\n", d.ID, d.Name, d.Tokens, d.Description, stale)
		}
		fmt.Fprintf(out, "Total: %d tokens\n", p.TotalTokens())
		return nil
	},
}

func listAllProjects(out io.Writer) error {
	root, err := defaultProjectsDir()
	if err != nil {
		return err
	}
	dirs, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	found := false
	for _, e := range dirs {
		if e.IsDir() && project.Exists(filepath.Join(root, e.Name())) {
			fmt.Fprintf(out, "- %s\n", e.Name())
			found = true
		}
	}
	if !found {
		fmt.Fprintln(out, "(no projects)")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().BoolVar(&listProjects, "projects", false, "list projects")
	listCmd.Flags().BoolVar(&listDocs, "docs", false, "list documents in a project")
	listCmd.Flags().StringVarP(&listProjName, "project", "p", "", "project name for --docs")
}

package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/docloom-embed/internal/project"
	"github.com/KaramelBytes/docloom-embed/internal/utils"
)

var (
	initDescription string
	initModel       string
)

var initCmd = &cobra.Command{
	Use:   "init <project-name>",
	Short: "Initialize a new document collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		projDir, err := resolveProjectDirByName(name)
		if err != nil {
			return err
		}
		// Refuse to overwrite an existing project.
		if info, err := os.Stat(projDir); err == nil && info.IsDir() {
			if project.Exists(projDir) {
				return fmt.Errorf("project already exists at %s", projDir)
			}
			entries, err := os.ReadDir(projDir)
			if err != nil {
				return fmt.Errorf("inspect project directory: %w", err)
			}
			if len(entries) > 0 {
				return fmt.Errorf("directory %s already exists and is not empty; refusing to initialize project", projDir)
			}
		} else if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("stat project directory: %w", err)
		}
		if err := utils.EnsureDir(projDir); err != nil {
			return err
		}
		p := project.NewProject(name, initDescription, projDir)
		p.Settings.EmbeddingModel = initModel
		if err := p.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Project initialized: %s\n", projDir)
		return nil
	},
}

func defaultProjectsDir() (string, error) {
	c, err := requireConfig()
	if err != nil {
		return "", err
	}
	dir := c.ProjectsDir
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dir = strings.TrimPrefix(dir, "~")
		dir = strings.TrimPrefix(dir, string(os.PathSeparator))
		dir = strings.TrimPrefix(dir, "/")
		dir = filepath.Join(home, dir)
	}
	dir = filepath.Clean(dir)
	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func resolveProjectDirByName(name string) (string, error) {
	if name == "" {
		return "", errors.New("project name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid project name %q", name)
	}
	root, err := defaultProjectsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, name), nil
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVarP(&initDescription, "desc", "d", "", "project description")
	initCmd.Flags().StringVar(&initModel, "model", "", "embedding model for this project (default from config)")
}

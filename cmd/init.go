package cmd

import (
	"context"
	"fmt"

	"github.com/chainbak/chainbak/pkg/buildinfo"
	"github.com/chainbak/chainbak/pkg/config"
	"github.com/chainbak/chainbak/pkg/plog"
)

// RunInit handles the logic for the 'init' command: it writes a commented
// default config file into the backup root so strategic options (retention,
// engine invocation) live with the chain instead of in shell history.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	root, ok := flagMap["root"].(string)
	if !ok || root == "" {
		return fmt.Errorf("the -root flag is required for the init operation")
	}

	configPath, err := config.WriteDefault(root)
	if err != nil {
		return fmt.Errorf("failed to initialize backup root: %w", err)
	}

	plog.Info(buildinfo.Name+" backup root initialized.", "config", configPath)
	return nil
}

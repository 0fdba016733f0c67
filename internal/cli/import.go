package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/organism/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import entries from JSON",
		Long:  "Import entries from JSON on stdin. Expects the format produced by export.",
		Run:   runImport,
	}

	memoryCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var entries []model.LongTermEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		exitErr("parse json", err)
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	imported, err := s.Import(cmd.Context(), entries)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", imported)
}

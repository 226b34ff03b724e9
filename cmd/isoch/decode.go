package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/isoch/hciev"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode captured ISO event payloads",
	Long: `Decode a trace of ISO-domain HCI event payloads into typed dumps.

Each input line is "<kind> <hex bytes>"; kind is one of cig-create,
cig-remove, cis-est, cis-req, cis-status, big-create, big-term,
big-sync-est, big-sync-lost, data-path, link-quality. Blank lines and
lines starting with # are skipped. Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	errColor    = color.New(color.FgRed)
	fieldColor  = color.New(color.FgGreen)
)

func runDecode(cmd *cobra.Command, args []string) error {
	var in io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()
		in = f
	}

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kind, payload, err := splitTraceLine(line)
		if err != nil {
			errColor.Fprintf(out, "line %d: %s\n", lineNo, err)
			continue
		}
		decodeOne(out, lineNo, kind, payload)
	}
	return scanner.Err()
}

func splitTraceLine(line string) (string, []byte, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", nil, fmt.Errorf("expected \"<kind> <hex bytes>\"")
	}
	raw := strings.Join(fields[1:], "")
	payload, err := hex.DecodeString(raw)
	if err != nil {
		return "", nil, fmt.Errorf("bad hex: %w", err)
	}
	return fields[0], payload, nil
}

func decodeOne(out io.Writer, lineNo int, kind string, payload []byte) {
	dump := func(name string, v any, err error) {
		if err != nil {
			errColor.Fprintf(out, "line %d: %s: %s\n", lineNo, name, err)
			return
		}
		headerColor.Fprintf(out, "%s\n", name)
		fieldColor.Fprintf(out, "  %+v\n", v)
	}

	switch kind {
	case "cig-create":
		v, err := hciev.UnmarshalCigCreateComplete(payload)
		dump("CIG Create/Reconfigure Complete", v, err)
	case "cig-remove":
		v, err := hciev.UnmarshalCigRemoveComplete(payload)
		dump("CIG Remove Complete", v, err)
	case "cis-est":
		v, err := hciev.UnmarshalCisEstablished(payload)
		dump("CIS Established", v, err)
	case "cis-status":
		v, err := hciev.UnmarshalCreateCisStatus(payload)
		dump("Create CIS Status", v, err)
	case "big-create":
		v, err := hciev.UnmarshalBigCreateComplete(payload)
		dump("Create BIG Complete", v, err)
	case "big-term":
		v, err := hciev.UnmarshalBigTerminateComplete(payload)
		dump("Terminate BIG Complete", v, err)
	case "data-path":
		v, err := hciev.UnmarshalDataPathComplete(payload)
		dump("Data Path Complete", v, err)
	case "cis-req":
		v, err := hciev.UnmarshalCisRequest(payload)
		dump("CIS Request", v, err)
	case "big-sync-est":
		v, err := hciev.UnmarshalBigSyncEstablished(payload)
		dump("BIG Sync Established", v, err)
	case "big-sync-lost":
		v, err := hciev.UnmarshalBigSyncLost(payload)
		dump("BIG Sync Lost", v, err)
	case "link-quality":
		v, err := hciev.UnmarshalLinkQuality(payload)
		dump("ISO Link Quality", v, err)
	default:
		errColor.Fprintf(out, "line %d: unknown kind %q\n", lineNo, kind)
	}
}

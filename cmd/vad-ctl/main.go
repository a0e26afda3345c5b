package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"vadlink/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Sender control socket")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: vad-ctl [--socket path] flush|status\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdStatus
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	resp, err := ipc.SendCommand(*socket, cmd)
	if err != nil {
		fmt.Println("vad-sender not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Println("error:", resp.Error)
		os.Exit(1)
	}

	if len(resp.Status) == 0 {
		fmt.Println("ok")
		return
	}

	var out bytes.Buffer
	if err := json.Indent(&out, resp.Status, "", "  "); err != nil {
		fmt.Println(string(resp.Status))
		return
	}
	fmt.Println(out.String())
}

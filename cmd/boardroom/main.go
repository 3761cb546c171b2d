// Command boardroom is the boardroom CLI client.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/GoCodeAlone/boardroom/internal/version"
)

const defaultServer = "http://localhost:9090"

// CLI defines the command-line interface.
type CLI struct {
	Server string `default:"${server}" env:"BOARDROOM_SERVER" help:"Server URL"`
	Token  string `env:"BOARDROOM_TOKEN" help:"JWT auth token"`

	Version      VersionCmd      `cmd:"" help:"Print version"`
	Login        LoginCmd        `cmd:"" help:"Exchange credentials for a token"`
	Status       StatusCmd       `cmd:"" help:"Show server status"`
	Agents       AgentsCmd       `cmd:"" help:"List agents"`
	Agent        AgentCmd        `cmd:"" help:"Show one agent and its chain of command"`
	Tasks        TasksCmd        `cmd:"" help:"List tasks"`
	Task         TaskCmd         `cmd:"" help:"Create, show or reset a task"`
	Sweep        SweepCmd        `cmd:"" help:"Requeue tasks stuck in progress"`
	Say          SayCmd          `cmd:"" help:"Post to the board room"`
	Messages     MessagesCmd     `cmd:"" help:"Show board-room messages"`
	Workers      WorkersCmd      `cmd:"" help:"Show worker pollers"`
	Terminations TerminationsCmd `cmd:"" help:"List tasks ended by the security sentinel"`
}

// App is bound into every command's Run method.
type App struct {
	Client *Client
	Out    io.Writer
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("boardroom"),
		kong.Description("Client for the boardroom API."),
		kong.UsageOnError(),
		kong.Vars{"server": defaultServer},
	)
	err := ctx.Run(&App{
		Client: &Client{
			BaseURL:    strings.TrimRight(cli.Server, "/"),
			Token:      cli.Token,
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
		},
		Out: os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// VersionCmd prints the client version.
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintf(app.Out, "boardroom %s\n", version.String())
	return nil
}

// --- helpers ---

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

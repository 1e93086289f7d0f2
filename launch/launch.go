// Package launch starts a full cluster from one machine: one server process
// per ip-config entry plus a fixed number of client processes, spread evenly
// over the machines. Remote processes run over ssh; processes on loopback
// hosts run locally.
//
// The launched commands learn their role through environment variables, so
// any binary built on this module can be driven by the launcher.
package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/distgraph/rpc"
)

// Environment variables set for every launched process.
const (
	// EnvRole is "server" or "client".
	EnvRole = "DISTGRAPH_ROLE"
	// EnvServerID carries the server rank. Unset for clients.
	EnvServerID = "DISTGRAPH_SERVER_ID"
	// EnvNumClients carries the total client count.
	EnvNumClients = "DISTGRAPH_NUM_CLIENTS"
	// EnvPartConfig carries the graph artifact name.
	EnvPartConfig = "DISTGRAPH_PART_CONFIG"
	// EnvIPConfig carries the ip-config path.
	EnvIPConfig = "DISTGRAPH_IP_CONFIG"
)

// Config describes one cluster launch.
type Config struct {
	// IPConfigPath is the ip-config file, one "<host> <port> <group_size>"
	// line per server. The path must be valid on every machine.
	IPConfigPath string
	// PartConfig is the graph artifact name passed to every process.
	PartConfig string
	// NumClients is the total number of client processes. It must divide
	// evenly over the machines of the ip-config.
	NumClients int
	// ServerCmd is the shell command run for each server process.
	ServerCmd string
	// ClientCmd is the shell command run for each client process.
	ClientCmd string
	// WorkDir, when set, is the remote working directory (cd'ed into before
	// the command).
	WorkDir string
	// Env holds extra KEY=VALUE pairs passed to every process.
	Env []string
}

type options struct {
	logger  *slog.Logger
	sshPort int
	sshUser string
}

// Option configures Run.
type Option func(*options)

// WithLogger sets the structured logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSSHPort sets the ssh port for remote hosts. Default 22.
func WithSSHPort(port int) Option {
	return func(o *options) { o.sshPort = port }
}

// WithSSHUser sets the ssh login user. Default is the current user.
func WithSSHUser(user string) Option {
	return func(o *options) { o.sshUser = user }
}

// Run launches the whole cluster and blocks until every process has exited
// or one of them fails. On failure the context handed to the remaining
// processes is cancelled.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	o := options{sshPort: 22}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if cfg.ServerCmd == "" || cfg.ClientCmd == "" {
		return &rpc.ConfigError{Detail: "launch: server and client commands are required"}
	}
	if cfg.NumClients < 1 {
		return &rpc.ConfigError{Detail: fmt.Sprintf("launch: need at least one client, got %d", cfg.NumClients)}
	}

	nb, err := rpc.LoadIPConfig(cfg.IPConfigPath)
	if err != nil {
		return err
	}
	numMachines := nb.NumMachines()
	if cfg.NumClients%numMachines != 0 {
		return &rpc.ConfigError{Detail: fmt.Sprintf(
			"launch: %d clients do not divide evenly over %d machines", cfg.NumClients, numMachines)}
	}
	clientsPerMachine := cfg.NumClients / numMachines

	baseEnv := append([]string{
		EnvNumClients + "=" + strconv.Itoa(cfg.NumClients),
		EnvPartConfig + "=" + cfg.PartConfig,
		EnvIPConfig + "=" + cfg.IPConfigPath,
	}, cfg.Env...)

	g, gctx := errgroup.WithContext(ctx)

	for _, spec := range nb.Servers() {
		host, err := nb.MachineHost(spec.MachineID)
		if err != nil {
			return err
		}
		env := append([]string{
			EnvRole + "=server",
			EnvServerID + "=" + strconv.Itoa(spec.Rank),
		}, baseEnv...)
		o.logger.Info("launching server", "rank", spec.Rank, "host", host)
		g.Go(runner(gctx, &o, cfg, host, cfg.ServerCmd, env))
	}

	for machine := 0; machine < numMachines; machine++ {
		host, err := nb.MachineHost(machine)
		if err != nil {
			return err
		}
		env := append([]string{EnvRole + "=client"}, baseEnv...)
		for i := 0; i < clientsPerMachine; i++ {
			o.logger.Info("launching client", "machine", machine, "host", host)
			g.Go(runner(gctx, &o, cfg, host, cfg.ClientCmd, env))
		}
	}

	return g.Wait()
}

func runner(ctx context.Context, o *options, cfg Config, host, command string, env []string) func() error {
	return func() error {
		cmd := buildCmd(ctx, o, cfg, host, command, env)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("launch: %q on %s: %w", command, host, err)
		}
		return nil
	}
}

// buildCmd wraps command for host: a plain shell for loopback, ssh with
// inlined environment otherwise. ssh carries no environment across, so
// remote commands get their variables prepended.
func buildCmd(ctx context.Context, o *options, cfg Config, host, command string, env []string) *exec.Cmd {
	script := command
	if cfg.WorkDir != "" {
		script = "cd " + shellQuote(cfg.WorkDir) + " && " + script
	}

	if isLocalHost(host) {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
		cmd.Env = append(os.Environ(), env...)
		return cmd
	}

	for i := len(env) - 1; i >= 0; i-- {
		script = env[i] + " " + script
	}
	target := host
	if o.sshUser != "" {
		target = o.sshUser + "@" + host
	}
	return exec.CommandContext(ctx, "ssh",
		"-o", "StrictHostKeyChecking=no",
		"-p", strconv.Itoa(o.sshPort),
		target, script)
}

func isLocalHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

func shellQuote(s string) string {
	out := []byte{'\''}
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}

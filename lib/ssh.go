package lib

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// LocalKeys maps key names to *.pem files in dir, "prod" -> "~/.ssh/prod.pem".
func LocalKeys(dir string) (map[string]string, error) {
	dir, err := ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		Logger.Println("error:", err)
		return nil, err
	}
	keys := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") {
			continue
		}
		keys[strings.TrimSuffix(entry.Name(), ".pem")] = path.Join(dir, entry.Name())
	}
	return keys, nil
}

func ResolveKey(keys map[string]string, name string) (string, error) {
	keyFile, ok := keys[name]
	if !ok || name == "" {
		return "", &CredentialNotFoundError{Name: name}
	}
	return keyFile, nil
}

type UserProber interface {
	ProbeUser(ctx context.Context, host, keyFile string) (string, error)
}

// SSHUserProber tries each candidate user once with public key auth, the
// first one that authenticates is the login user.
type SSHUserProber struct {
	Users   []string
	Timeout time.Duration
}

func (p *SSHUserProber) ProbeUser(ctx context.Context, host, keyFile string) (string, error) {
	bytes, err := os.ReadFile(keyFile)
	if err != nil {
		return "", &UserDiscoveryError{Host: host, Err: err}
	}
	signer, err := ssh.ParsePrivateKey(bytes)
	if err != nil {
		return "", &UserDiscoveryError{Host: host, Err: err}
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	var errs []error
	for _, user := range p.Users {
		config := &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			Timeout:         timeout,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		}
		client, err := sshDialContext(ctx, "tcp", net.JoinHostPort(host, "22"), config)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", user, err))
			var netErr net.Error
			if errors.As(err, &netErr) {
				// unreachable host, the other users will not do better
				break
			}
			continue
		}
		_ = client.Close()
		return user, nil
	}
	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("no candidate users"))
	}
	return "", &UserDiscoveryError{Host: host, Err: errors.Join(errs...)}
}

func sshDialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	var d net.Dialer
	dialContext, dialCancel := context.WithTimeout(ctx, config.Timeout)
	defer dialCancel()
	conn, err := d.DialContext(dialContext, network, addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

type SSHTarget struct {
	ID      string
	Host    string
	User    string
	KeyFile string
}

type RemoteExecutor interface {
	Run(ctx context.Context, target SSHTarget, cmd string, timeout time.Duration) error
	Login(ctx context.Context, target SSHTarget) error
}

// SSHExecutor shells out to the ssh binary.
type SSHExecutor struct {
	Stdout      io.Writer
	Stderr      io.Writer
	Stdin       io.Reader
	PrefixLines bool
	Quiet       bool

	printLock sync.Mutex
}

func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{Stdout: os.Stdout, Stderr: os.Stderr, Stdin: os.Stdin}
}

func sshArgs(target SSHTarget) []string {
	return []string{
		"-i", target.KeyFile,
		"-o", "IdentitiesOnly=yes",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "StrictHostKeyChecking=no",
		"-o", "LogLevel=ERROR",
		target.User + "@" + target.Host,
	}
}

func (e *SSHExecutor) Run(ctx context.Context, target SSHTarget, cmd string, timeout time.Duration) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	args := append(sshArgs(target), cmd)
	command := exec.CommandContext(runCtx, "ssh", args...)
	// children of ssh can hold its output open after it is killed
	command.WaitDelay = time.Second
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	command.Stdout = stdoutW
	command.Stderr = stderrW
	err := command.Start()
	if err != nil {
		return &RemoteExecError{Host: target.Host, Err: err}
	}
	done := make(chan error, 2)
	go e.tail(target, bufio.NewReader(stdoutR), e.Stdout, done)
	go e.tail(target, bufio.NewReader(stderrR), e.Stderr, done)
	err = command.Wait()
	_ = stdoutW.Close()
	_ = stderrW.Close()
	var tailErr error
	for range 2 {
		if err := <-done; err != nil {
			tailErr = err
		}
	}
	if runCtx.Err() == context.DeadlineExceeded {
		return &RemoteExecTimeoutError{Host: target.Host, Timeout: timeout}
	}
	if err != nil {
		return &RemoteExecError{Host: target.Host, Err: err}
	}
	if tailErr != nil {
		return &RemoteExecError{Host: target.Host, Err: tailErr}
	}
	return nil
}

func (e *SSHExecutor) tail(target SSHTarget, buf *bufio.Reader, w io.Writer, done chan<- error) {
	for {
		line, err := buf.ReadString('\n')
		if line != "" && !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		if line != "" && !e.Quiet {
			if e.PrefixLines {
				line = target.ID + ": " + line
			}
			e.printLock.Lock()
			_, _ = fmt.Fprint(w, line)
			e.printLock.Unlock()
		}
		if err != nil {
			if err == io.EOF {
				done <- nil
			} else {
				done <- err
			}
			return
		}
	}
}

func (e *SSHExecutor) Login(ctx context.Context, target SSHTarget) error {
	command := exec.CommandContext(ctx, "ssh", sshArgs(target)...)
	command.Stdin = e.Stdin
	command.Stdout = e.Stdout
	command.Stderr = e.Stderr
	err := command.Run()
	if err != nil {
		return &RemoteExecError{Host: target.Host, Err: err}
	}
	return nil
}

type DispatchInput struct {
	Instances []Record
	Command   string // empty starts an interactive session
	Timeout   time.Duration
	PrivateIP bool
	Profile   string
	Quiet     bool
	Out       io.Writer
}

type DispatchResult struct {
	ID      string
	Host    string
	User    string
	Skipped bool
	Err     error
}

// Dispatcher runs a command, or an interactive session, on each instance in
// order. A failure on one instance never stops the next.
type Dispatcher struct {
	Fields   Fields
	Keys     map[string]string
	Prober   UserProber
	Executor RemoteExecutor
	Storage  Storage
}

// Fields names the record fields the dispatcher reads.
type Fields struct {
	ID        string
	Name      string
	IP        string
	PrivateIP string
	Key       string
	User      string
}

func DefaultFields() Fields {
	return Fields{
		ID:        "id",
		Name:      "name",
		IP:        "ip",
		PrivateIP: "ip_private",
		Key:       "pem",
		User:      FieldSSHUser,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, input *DispatchInput) []DispatchResult {
	out := input.Out
	if out == nil {
		out = os.Stderr
	}
	var results []DispatchResult
	for _, instance := range input.Instances {
		res := d.dispatchOne(ctx, instance, input, out)
		if res.Err != nil && !input.Quiet {
			_, _ = fmt.Fprintln(out, Red(fmt.Sprintf("%s: %s", res.ID, res.Err)))
		}
		results = append(results, res)
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, instance Record, input *DispatchInput, out io.Writer) DispatchResult {
	f := d.Fields
	res := DispatchResult{ID: instance.Get(f.ID)}
	host := instance.Get(f.IP)
	if input.PrivateIP {
		host = instance.Get(f.PrivateIP)
	}
	res.Host = host
	if host == "" {
		res.Skipped = true
		res.Err = fmt.Errorf("no ip address")
		return res
	}
	keyName := instance.Get(f.Key)
	keyFile, err := ResolveKey(d.Keys, keyName)
	if err != nil {
		res.Skipped = true
		res.Err = err
		return res
	}
	user := instance.Get(f.User)
	discovered := false
	if user == "" {
		user, err = d.Prober.ProbeUser(ctx, host, keyFile)
		if err != nil || user == "" {
			if err == nil {
				err = &UserDiscoveryError{Host: host, Err: fmt.Errorf("empty user")}
			}
			res.Skipped = true
			res.Err = err
			return res
		}
		discovered = true
	}
	res.User = user
	if !input.Quiet {
		_, _ = fmt.Fprintln(out, "--------------------------------------------------")
		_, _ = fmt.Fprintf(out, "\nInstance %s (%s) at %s with pem %s and user %s\n\n",
			Green(res.ID), instance.Get(f.Name), Cyan(host), keyName, user)
	}
	target := SSHTarget{ID: res.ID, Host: host, User: user, KeyFile: keyFile}
	if input.Command == "" {
		err = d.Executor.Login(ctx, target)
	} else {
		err = d.Executor.Run(ctx, target, input.Command, input.Timeout)
	}
	if err != nil {
		res.Err = err
		return res
	}
	if discovered && d.Storage != nil {
		d.saveUser(ctx, input.Profile, res.ID, user)
	}
	return res
}

func (d *Dispatcher) saveUser(ctx context.Context, profile, id, user string) {
	h, ok, err := d.Storage.Lookup(ctx, profile, id)
	if err != nil || !ok {
		if err != nil {
			Logger.Println("error:", err)
		}
		return
	}
	err = d.Storage.Update(ctx, h, Record{d.Fields.User: Scalar(user)}, nil)
	if err != nil {
		Logger.Println("error:", err)
	}
}

// Command watch follows the shared lunch vote from a terminal. It logs the
// option being voted on and how every checked-in participant voted, and
// reads y/n answers from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	service "github.com/okian/lunchvote/internal/app"
	"github.com/okian/lunchvote/internal/config"
	"github.com/okian/lunchvote/pkg/logger"
)

const checkOutTimeout = 5 * time.Second

type options struct {
	as      string
	origin  string
	checkIn bool
}

func main() {
	var opts options
	flag.StringVar(&opts.as, "as", "", "username to identify as")
	flag.StringVar(&opts.origin, "origin", "", "origin address (default: first non-loopback IPv4)")
	flag.BoolVar(&opts.checkIn, "checkin", false, "check in as -as on start and check out on exit")
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin); err != nil {
		logger.Get().Error(ctx, "watch exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(logger.Format(cfg.LogFormat))); err != nil {
		return err
	}
	_ = logger.SetLevelString(cfg.LogLevel)
	log := logger.Named("watch")

	svc, err := service.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	origin := opts.origin
	if origin == "" {
		origin = service.LocalAddress()
	}
	sess := service.NewSession(svc, origin)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &console{sess: sess, log: log, quit: cancel}
	if opts.as != "" {
		if opts.checkIn {
			c.checkIn(ctx, opts.as)
		} else if err := sess.SetUsername(opts.as); err != nil {
			return err
		}
	}
	defer c.checkOut()

	r := newRenderer(log)
	unwatch := sess.Watch(r.Show)
	defer unwatch()

	go c.read(ctx, in)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick()
		}
	}
}

// console applies commands typed on stdin to the session.
type console struct {
	sess *service.Session
	log  logger.Logger
	quit func()

	mu        sync.Mutex
	checkedIn bool
}

func (c *console) read(ctx context.Context, in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if !c.handle(ctx, sc.Text()) {
			break
		}
	}
	c.quit()
}

// handle runs one command line and reports whether to keep reading.
func (c *console) handle(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch strings.ToLower(cmd) {
	case "":
	case "y", "yes":
		c.vote(ctx, true)
	case "n", "no":
		c.vote(ctx, false)
	case "checkin":
		c.checkIn(ctx, strings.TrimSpace(arg))
	case "checkout":
		c.checkOut()
	case "q", "quit", "exit":
		return false
	default:
		c.log.Warn(ctx, "unknown command; use y, n, checkin NAME, checkout or quit", logger.String("command", cmd))
	}
	return true
}

func (c *console) vote(ctx context.Context, approve bool) {
	if err := c.sess.Vote(ctx, approve); err != nil {
		c.log.Warn(ctx, "vote not recorded", logger.Error(err))
		return
	}
	c.log.Info(ctx, "vote recorded", logger.Bool("approve", approve))
}

func (c *console) checkIn(ctx context.Context, name string) {
	err := c.sess.CheckIn(ctx, name)
	switch {
	case err == nil, errors.Is(err, service.ErrNotify):
		c.mu.Lock()
		c.checkedIn = true
		c.mu.Unlock()
		c.log.Info(ctx, "checked in", logger.String("username", name))
		if err != nil {
			c.log.Warn(ctx, "check-in notification failed", logger.Error(err))
		}
	case errors.Is(err, service.ErrAlreadyCheckedIn):
		c.log.Warn(ctx, "there's already a user with that username; pick another one", logger.String("username", name))
	default:
		c.log.Warn(ctx, "check-in failed", logger.Error(err))
	}
}

// checkOut is best effort; it runs on exit with its own deadline.
func (c *console) checkOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checkedIn {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkOutTimeout)
	defer cancel()
	if err := c.sess.CheckOut(ctx); err != nil {
		c.log.Warn(ctx, "check-out failed", logger.Error(err))
		return
	}
	c.checkedIn = false
	c.log.Info(ctx, "checked out")
}

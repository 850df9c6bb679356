package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rlerrors "github.com/mirkobrombin/go-redlock/v1/errors"
	"github.com/mirkobrombin/go-redlock/v1/redlock"
)

var (
	lockTTL  time.Duration
	lockWait bool

	acquireCmd = &cobra.Command{
		Use:   "acquire [resource]",
		Short: "Acquire a lock and print its token",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [resource] [token]",
		Short: "Release a lock previously acquired with the given token",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}

	runCmd = &cobra.Command{
		Use:   "run [resource] -- [command...]",
		Short: "Run a command while holding a lock",
		Long: `Run a command while holding a lock. The command is killed when the
lock validity runs out and the lock is released when it exits.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runLocked,
	}
)

func init() {
	for _, c := range []*cobra.Command{acquireCmd, runCmd} {
		c.Flags().DurationVar(&lockTTL, "ttl", 10*time.Second, "lock time to live")
		c.Flags().BoolVar(&lockWait, "wait", false, "keep trying until the lock is free or the command is interrupted")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func acquire(ctx context.Context, s *session, resource string) (*redlock.Lock, error) {
	if lockWait {
		return s.AcquireWait(ctx, resource, lockTTL)
	}
	return s.Acquire(ctx, resource, lockTTL)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	l, err := acquire(ctx, s, args[0])
	if errors.Is(err, rlerrors.ErrNotAcquired) {
		fmt.Fprintln(cmd.OutOrStdout(), "acquired=false")
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "acquired=true token=%s validity=%s\n", l.Token, l.Validity)
	return nil
}

func runRelease(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	s.Release(ctx, &redlock.Lock{Resource: args[0], Token: args[1]})
	fmt.Fprintln(cmd.OutOrStdout(), "released")
	return nil
}

func runLocked(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	l, err := acquire(ctx, s, args[0])
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer s.Release(context.WithoutCancel(ctx), l)

	cctx, cancel := context.WithDeadline(ctx, l.Deadline())
	defer cancel()

	child := exec.CommandContext(cctx, args[1], args[2:]...)
	child.Stdin = os.Stdin
	child.Stdout = cmd.OutOrStdout()
	child.Stderr = cmd.ErrOrStderr()
	child.WaitDelay = time.Second
	if err := child.Run(); err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("lock on %s expired while %s was running", args[0], args[1])
		}
		return err
	}
	return nil
}

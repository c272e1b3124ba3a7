package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hibiken/asynq"
)

// ErrUsage is returned for unknown or incomplete commands.
var ErrUsage = errors.New("usage: agora jobs [stats | redrive | trigger <task>]")

// Jobs is the command surface RunJobs drives.
type Jobs interface {
	Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error)
	InspectQueues(ctx context.Context) ([]QueueStats, error)
	RedriveEvents(ctx context.Context) (int, error)
}

// RunJobs executes one "agora jobs" subcommand and writes its result to out.
func RunJobs(ctx context.Context, j Jobs, args []string, out io.Writer) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "stats":
		stats, err := j.InspectQueues(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return tw.Flush()
	case "redrive":
		n, err := j.RedriveEvents(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "requeued %d event deliveries\n", n)
		return err
	case "trigger":
		if len(args) < 2 {
			return ErrUsage
		}
		info, err := j.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return err
	default:
		return ErrUsage
	}
}

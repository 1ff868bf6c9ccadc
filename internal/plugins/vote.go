package plugins

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tuna/fishroom/internal/command"
	"github.com/tuna/fishroom/internal/store"
)

var voteMarks = []string{"⭐", "👍", "❤ ", "☀"}

const voteUsage = "\n" +
	"vote: show current vote\n" +
	"vote new '<topic>': create new vote\n" +
	"vote add '<option>': add vote option\n" +
	"vote start: start voting\n" +
	"vote <num>: vote for option num\n" +
	"vote end: end voting"

func registerVote(votes *store.VoteStore) {
	command.Register("vote", command.Handler{
		Func:  voteHandler(votes),
		Desc:  "Vote plugin",
		Usage: voteUsage,
	})
}

func voteHandler(votes *store.VoteStore) command.HandlerFunc {
	return func(ctx context.Context, req *command.Request) (string, error) {
		room, sender := req.Room, req.Msg.Sender
		if len(req.Args) == 0 {
			return renderVote(ctx, votes, room, false, false), nil
		}

		sub, rest := req.Args[0], req.Args[1:]
		switch sub {
		case "new":
			topic := strings.Join(rest, " ")
			if topic == "" {
				return "use /vote new <topic> to set topic", nil
			}
			if err := votes.New(ctx, room, topic); err != nil {
				if errors.Is(err, store.ErrVoteExists) {
					return "There is an on-going voting, end it before creating new.", nil
				}
				return "", err
			}
			return fmt.Sprintf(
				"👍 %s created vote: %s\n"+
					"use /vote add <option> to add options\n"+
					"and /vote start to start voting", sender, topic), nil

		case "add":
			opt := strings.Join(rest, " ")
			if opt == "" {
				return "use /vote add <option> to add option", nil
			}
			switch err := votes.AddOption(ctx, room, opt); {
			case errors.Is(err, store.ErrNoVote):
				return "no ongoing votes", nil
			case errors.Is(err, store.ErrVoteStarted):
				return "vote started, cannot add options now", nil
			case err != nil:
				return "", err
			}
			return "👍", nil

		case "start":
			switch err := votes.Start(ctx, room); {
			case errors.Is(err, store.ErrNoVote):
				return "no ongoing votes", nil
			case errors.Is(err, store.ErrNoOption):
				return "no options for the vote, cannot start", nil
			case errors.Is(err, store.ErrVoteStarted):
				return "cannot start a vote twice", nil
			case err != nil:
				return "", err
			}
			return renderVote(ctx, votes, room, false, true), nil

		case "end":
			ret := "❤  End vote, final result: \n" + renderVote(ctx, votes, room, true, false)
			if err := votes.End(ctx, room); err != nil {
				return "", err
			}
			return ret, nil

		case "for":
			opt := strings.Join(rest, " ")
			if opt == "" {
				return "use /vote for <str> to vote", nil
			}
			idx, err := votes.CastOption(ctx, room, sender, opt)
			if err != nil {
				return castError(err)
			}
			return voteMarks[idx%len(voteMarks)], nil

		default:
			n, err := strconv.Atoi(sub)
			if err != nil {
				return "", nil
			}
			idx := n - 1
			if _, err := votes.CastIndex(ctx, room, sender, idx); err != nil {
				return castError(err)
			}
			return voteMarks[idx%len(voteMarks)], nil
		}
	}
}

func castError(err error) (string, error) {
	switch {
	case errors.Is(err, store.ErrNoOption):
		return "invalid option", nil
	case errors.Is(err, store.ErrVoteNotStarted):
		return "vote not started", nil
	default:
		return "", err
	}
}

// renderVote draws the tally. end drops the how-to-vote hint; start adds
// the how-to-check hint.
func renderVote(ctx context.Context, votes *store.VoteStore, room string, end, start bool) string {
	v, err := votes.Get(ctx, room)
	if err != nil {
		return "No on-going voting"
	}

	counts := make([]int, len(v.Options))
	for _, idx := range v.Voters {
		counts[idx]++
	}

	var b strings.Builder
	b.WriteString(v.Topic + "\n")
	for i, opt := range v.Options {
		mark := voteMarks[i%len(voteMarks)]
		fmt.Fprintf(&b, "%d. %s: %s %d\n", i+1, opt, strings.Repeat(mark, counts[i]), counts[i])
	}

	if v.Status == store.VoteStatusNew {
		b.WriteString("voting not started yet")
	} else {
		if !end {
			b.WriteString("use /vote <number> to vote for your option\n")
		}
		if start {
			b.WriteString("use /vote to show vote status\n")
		}
	}
	return strings.TrimSpace(b.String())
}

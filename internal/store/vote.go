package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tuna/fishroom/internal/broker"
)

// Vote lifecycle errors, surfaced to the vote command for rendering.
var (
	ErrNoVote         = errors.New("no ongoing vote")
	ErrVoteExists     = errors.New("vote already exists")
	ErrVoteStarted    = errors.New("vote already started")
	ErrVoteNotStarted = errors.New("vote not started")
	ErrNoOption       = errors.New("no such option")
)

// Vote states stored under the room's status key.
const (
	VoteStatusNew    = "new"
	VoteStatusVoting = "voting"
)

// Vote is a snapshot of one room's current vote.
type Vote struct {
	Topic   string
	Status  string
	Options []string
	// Voters maps voter nickname to the option index they chose.
	Voters map[string]int
}

// VoteStore keeps at most one vote per room in the broker. The hub is
// the only writer, so no cross-key transaction is needed.
type VoteStore struct {
	client *broker.Client
}

func NewVoteStore(client *broker.Client) *VoteStore {
	return &VoteStore{client: client}
}

// New creates a vote in the "new" state. Fails while another vote is
// open in the room.
func (s *VoteStore) New(ctx context.Context, room, topic string) error {
	k := s.client.Keys
	if _, err := s.client.RDB.Get(ctx, k.VoteTopic(room)).Result(); err == nil {
		return ErrVoteExists
	} else if !broker.IsNil(err) {
		return fmt.Errorf("vote: %w", err)
	}
	if err := s.client.RDB.Set(ctx, k.VoteTopic(room), topic, 0).Err(); err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	if err := s.client.RDB.Set(ctx, k.VoteStatus(room), VoteStatusNew, 0).Err(); err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	return nil
}

// Get returns the room's current vote.
func (s *VoteStore) Get(ctx context.Context, room string) (*Vote, error) {
	k := s.client.Keys
	topic, err := s.client.RDB.Get(ctx, k.VoteTopic(room)).Result()
	if broker.IsNil(err) {
		return nil, ErrNoVote
	} else if err != nil {
		return nil, fmt.Errorf("vote: %w", err)
	}

	status, err := s.client.RDB.Get(ctx, k.VoteStatus(room)).Result()
	if err != nil && !broker.IsNil(err) {
		return nil, fmt.Errorf("vote: %w", err)
	}
	options, err := s.client.RDB.LRange(ctx, k.VoteOptions(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("vote: %w", err)
	}
	raw, err := s.client.RDB.HGetAll(ctx, k.VoteVoters(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("vote: %w", err)
	}

	voters := make(map[string]int, len(raw))
	for voter, idx := range raw {
		n, err := strconv.Atoi(idx)
		if err != nil || n < 0 || n >= len(options) {
			continue
		}
		voters[voter] = n
	}
	return &Vote{Topic: topic, Status: status, Options: options, Voters: voters}, nil
}

// AddOption appends an option. Only allowed before the vote starts.
func (s *VoteStore) AddOption(ctx context.Context, room, option string) error {
	k := s.client.Keys
	if _, err := s.client.RDB.Get(ctx, k.VoteTopic(room)).Result(); broker.IsNil(err) {
		return ErrNoVote
	} else if err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	status, err := s.client.RDB.Get(ctx, k.VoteStatus(room)).Result()
	if err != nil && !broker.IsNil(err) {
		return fmt.Errorf("vote: %w", err)
	}
	if status != VoteStatusNew {
		return ErrVoteStarted
	}
	if err := s.client.RDB.RPush(ctx, k.VoteOptions(room), option).Err(); err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	return nil
}

// Start moves the vote into the voting state. Requires at least one
// option.
func (s *VoteStore) Start(ctx context.Context, room string) error {
	k := s.client.Keys
	if _, err := s.client.RDB.Get(ctx, k.VoteTopic(room)).Result(); broker.IsNil(err) {
		return ErrNoVote
	} else if err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	n, err := s.client.RDB.LLen(ctx, k.VoteOptions(room)).Result()
	if err != nil {
		return fmt.Errorf("vote: %w", err)
	}
	if n == 0 {
		return ErrNoOption
	}
	status, err := s.client.RDB.Get(ctx, k.VoteStatus(room)).Result()
	if err != nil && !broker.IsNil(err) {
		return fmt.Errorf("vote: %w", err)
	}
	if status == VoteStatusVoting {
		return ErrVoteStarted
	}
	return s.client.RDB.Set(ctx, k.VoteStatus(room), VoteStatusVoting, 0).Err()
}

// End clears the room's vote.
func (s *VoteStore) End(ctx context.Context, room string) error {
	k := s.client.Keys
	return s.client.RDB.Del(ctx,
		k.VoteTopic(room), k.VoteStatus(room), k.VoteOptions(room), k.VoteVoters(room)).Err()
}

// CastIndex records voter's choice by option index and returns the
// option text. A voter casting twice overwrites their earlier choice.
func (s *VoteStore) CastIndex(ctx context.Context, room, voter string, idx int) (string, error) {
	k := s.client.Keys
	if err := s.requireVoting(ctx, room); err != nil {
		return "", err
	}
	if idx < 0 {
		return "", ErrNoOption
	}
	opt, err := s.client.RDB.LIndex(ctx, k.VoteOptions(room), int64(idx)).Result()
	if broker.IsNil(err) {
		return "", ErrNoOption
	} else if err != nil {
		return "", fmt.Errorf("vote: %w", err)
	}
	if err := s.client.RDB.HSet(ctx, k.VoteVoters(room), voter, idx).Err(); err != nil {
		return "", fmt.Errorf("vote: %w", err)
	}
	return opt, nil
}

// CastOption records voter's choice by option text and returns its
// index.
func (s *VoteStore) CastOption(ctx context.Context, room, voter, option string) (int, error) {
	k := s.client.Keys
	if err := s.requireVoting(ctx, room); err != nil {
		return 0, err
	}
	options, err := s.client.RDB.LRange(ctx, k.VoteOptions(room), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("vote: %w", err)
	}
	for idx, opt := range options {
		if opt == option {
			if err := s.client.RDB.HSet(ctx, k.VoteVoters(room), voter, idx).Err(); err != nil {
				return 0, fmt.Errorf("vote: %w", err)
			}
			return idx, nil
		}
	}
	return 0, ErrNoOption
}

func (s *VoteStore) requireVoting(ctx context.Context, room string) error {
	status, err := s.client.RDB.Get(ctx, s.client.Keys.VoteStatus(room)).Result()
	if err != nil && !broker.IsNil(err) {
		return fmt.Errorf("vote: %w", err)
	}
	if status != VoteStatusVoting {
		return ErrVoteNotStarted
	}
	return nil
}

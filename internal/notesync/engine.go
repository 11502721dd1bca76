package notesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/google/uuid"
)

const defaultMaxReplayAttempts = 10

type Logger interface {
	Printf(format string, args ...any)
}

type EngineOptions struct {
	Logger Logger
	Now    func() time.Time
	// NewID generates pending operation ids.
	NewID             func() string
	MaxReplayAttempts int

	OnConnectivity func(online bool)
	OnRefresh      func(items []notes.Note)
	OnDiscard      func(op PendingOperation, err error)
	// OnPark fires when an operation runs out of attempts and is moved to
	// the parked list, where RetryParked can pick it up again.
	OnPark func(op PendingOperation, err error)
	// OnQueued fires for every operation added to the queue. It runs with
	// the cache locked and must not call back into the engine.
	OnQueued func(op PendingOperation)
}

// Engine routes note operations to the remote store when it is reachable and
// to the local cache plus the pending queue when it is not. Queued operations
// are pushed by Replay.
type Engine struct {
	client RemoteClient
	cache  Cache
	locker Locker

	logger         Logger
	now            func() time.Time
	newID          func() string
	maxAttempts    int
	onConnectivity func(bool)
	onRefresh      func([]notes.Note)
	onDiscard      func(PendingOperation, error)
	onPark         func(PendingOperation, error)
	onQueued       func(PendingOperation)

	// mu guards online and every cache read-modify-write.
	mu     sync.Mutex
	online bool

	noteLocks *keyedMutex
	replayMu  sync.Mutex
}

func NewEngine(client RemoteClient, cache Cache, opts EngineOptions) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	e := &Engine{
		client:         client,
		cache:          cache,
		logger:         opts.Logger,
		now:            opts.Now,
		newID:          opts.NewID,
		maxAttempts:    opts.MaxReplayAttempts,
		onConnectivity: opts.OnConnectivity,
		onRefresh:      opts.OnRefresh,
		onDiscard:      opts.OnDiscard,
		onPark:         opts.OnPark,
		onQueued:       opts.OnQueued,
		online:         true,
		noteLocks:      newKeyedMutex(),
	}
	if locker, ok := cache.(Locker); ok {
		e.locker = locker
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxReplayAttempts
	}
	return e, nil
}

func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

func (e *Engine) Pending() ([]PendingOperation, error) {
	var queue []PendingOperation
	err := e.withCache(func() error {
		var err error
		queue, err = e.cache.ReadQueue()
		return err
	})
	return queue, err
}

// Parked returns the operations that ran out of replay attempts.
func (e *Engine) Parked() ([]PendingOperation, error) {
	var parked []PendingOperation
	err := e.withCache(func() error {
		state, err := e.cache.ReadState()
		parked = state.DeadLetters
		return err
	})
	return parked, err
}

// RetryParked moves parked operations back to the end of the queue with a
// fresh attempt budget and reports how many were moved.
func (e *Engine) RetryParked() (int, error) {
	var moved int
	err := e.withCache(func() error {
		state, err := e.cache.ReadState()
		if err != nil || len(state.DeadLetters) == 0 {
			return err
		}
		queue, err := e.cache.ReadQueue()
		if err != nil {
			return err
		}
		for _, op := range state.DeadLetters {
			op.Attempts = 0
			op.LastError = ""
			queue = append(queue, op)
		}
		if err := e.cache.WriteQueue(queue); err != nil {
			return err
		}
		moved = len(state.DeadLetters)
		state.DeadLetters = nil
		return e.cache.WriteState(state)
	})
	return moved, err
}

// Probe checks whether the remote store answers and records the result.
func (e *Engine) Probe(ctx context.Context) bool {
	_, err := e.client.List(ctx)
	online := !notes.IsUnavailable(err)
	e.setOnline(online)
	return online
}

// SetOnline records that connectivity came back and pushes the queue.
func (e *Engine) SetOnline(ctx context.Context) (ReplayReport, error) {
	e.setOnline(true)
	return e.Replay(ctx)
}

func (e *Engine) SetOffline() {
	e.setOnline(false)
}

func (e *Engine) List(ctx context.Context) ([]notes.Note, error) {
	if e.Online() {
		remote, err := e.client.List(ctx)
		switch {
		case err == nil:
			return e.storeRemoteList(remote)
		case notes.IsUnavailable(err):
			e.wentOffline(err)
		default:
			return nil, err
		}
	}
	return e.cachedNotes()
}

func (e *Engine) Get(ctx context.Context, id string) (notes.Note, error) {
	id, unlock, err := e.lockNote(id)
	if err != nil {
		return notes.Note{}, err
	}
	defer unlock()

	if e.Online() && !notes.IsTemporaryID(id) {
		note, err := e.client.Get(ctx, id)
		switch {
		case err == nil:
			_ = e.withCache(func() error { return e.replaceCachedLocked(note.ID, note) })
			return note, nil
		case notes.IsUnavailable(err):
			e.wentOffline(err)
		default:
			return notes.Note{}, err
		}
	}
	items, err := e.cachedNotes()
	if err != nil {
		return notes.Note{}, err
	}
	if i := notes.IndexOf(items, id); i >= 0 {
		return items[i], nil
	}
	return notes.Note{}, notes.ErrNotFound
}

func (e *Engine) Create(ctx context.Context, in notes.NoteInput) (notes.Note, error) {
	if err := in.Validate(); err != nil {
		return notes.Note{}, err
	}
	now := e.now().UTC()
	local := notes.Note{
		ID:        notes.NewTemporaryID(),
		Title:     in.TitleValue(),
		Content:   in.ContentValue(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	unlock := e.noteLocks.Lock(local.ID)
	defer unlock()

	if e.Online() {
		created, err := e.client.Create(ctx, in)
		switch {
		case err == nil:
			if err := e.withCache(func() error { return e.prependCachedLocked(created, local.ID) }); err != nil {
				return created, err
			}
			return created, nil
		case notes.IsUnavailable(err):
			e.wentOffline(err)
		default:
			return notes.Note{}, err
		}
	}

	err := e.withCache(func() error {
		if err := e.prependCachedLocked(local, ""); err != nil {
			return err
		}
		return e.enqueueLocked(ActionCreate, local)
	})
	if err != nil {
		return notes.Note{}, err
	}
	return local, nil
}

func (e *Engine) Update(ctx context.Context, id string, in notes.NoteInput) (notes.Note, error) {
	if err := in.Validate(); err != nil {
		return notes.Note{}, err
	}
	id, unlock, err := e.lockNote(id)
	if err != nil {
		return notes.Note{}, err
	}
	defer unlock()

	if e.Online() && !notes.IsTemporaryID(id) {
		updated, err := e.client.Update(ctx, id, in)
		switch {
		case err == nil:
			if err := e.withCache(func() error { return e.replaceCachedLocked(id, updated) }); err != nil {
				return updated, err
			}
			return updated, nil
		case notes.IsUnavailable(err):
			e.wentOffline(err)
		default:
			return notes.Note{}, err
		}
	}

	return e.updateLocal(id, in)
}

// updateLocal applies an edit to the cache and queues it. A note the cache
// has never seen keeps a zero CreatedAt until replay returns the server copy.
// An edit to a temporary note whose create is parked is folded into that
// create instead of being queued.
func (e *Engine) updateLocal(id string, in notes.NoteInput) (notes.Note, error) {
	local := notes.Note{ID: id, Title: in.TitleValue(), Content: in.ContentValue(), UpdatedAt: e.now().UTC()}
	err := e.withCache(func() error {
		items, err := e.cache.ReadNotes()
		if err != nil {
			return err
		}
		i := notes.IndexOf(items, id)
		if i >= 0 {
			local.CreatedAt = items[i].CreatedAt
		}
		var parked *SyncState
		if notes.IsTemporaryID(id) {
			queue, err := e.cache.ReadQueue()
			if err != nil {
				return err
			}
			if !hasPendingCreate(queue, id) {
				state, err := e.cache.ReadState()
				if err != nil {
					return err
				}
				j := indexCreate(state.DeadLetters, id)
				if j < 0 {
					return fmt.Errorf("%w: %s was never created remotely", notes.ErrNotFound, id)
				}
				local.CreatedAt = state.DeadLetters[j].Note.CreatedAt
				state.DeadLetters[j].Note = local
				parked = &state
			}
		}
		if i >= 0 {
			items[i] = local
			notes.SortByUpdated(items)
			if err := e.cache.WriteNotes(items); err != nil {
				return err
			}
		}
		if parked != nil {
			return e.cache.WriteState(*parked)
		}
		return e.enqueueLocked(ActionUpdate, local)
	})
	if err != nil {
		return notes.Note{}, err
	}
	return local, nil
}

// Delete removes the note from the cache before anything else; the local
// removal stands even when the remote delete fails. Deleting a temporary
// note whose create is parked drops the parked operations instead.
func (e *Engine) Delete(ctx context.Context, id string) error {
	id, unlock, err := e.lockNote(id)
	if err != nil {
		return err
	}
	defer unlock()

	dropped := false
	err = e.withCache(func() error {
		if err := e.removeCachedLocked(id); err != nil {
			return err
		}
		if !notes.IsTemporaryID(id) {
			return nil
		}
		queue, err := e.cache.ReadQueue()
		if err != nil || hasPendingCreate(queue, id) {
			return err
		}
		state, err := e.cache.ReadState()
		if err != nil {
			return err
		}
		if !hasNoteOperation(state.DeadLetters, id) {
			return fmt.Errorf("%w: %s was never created remotely", notes.ErrNotFound, id)
		}
		state.DeadLetters = dropNoteOperations(state.DeadLetters, id)
		dropped = true
		return e.cache.WriteState(state)
	})
	if err != nil || dropped {
		return err
	}
	if e.Online() && !notes.IsTemporaryID(id) {
		err := e.client.Delete(ctx, id)
		switch {
		case err == nil:
			return nil
		case notes.IsUnavailable(err):
			e.wentOffline(err)
		default:
			return err
		}
	}
	return e.withCache(func() error {
		return e.enqueueLocked(ActionDelete, notes.Note{ID: id})
	})
}

// Replay pushes queued operations in enqueue order. Each operation is tried
// at most once per pass and a failure does not stop later ones. A pass
// already in progress makes this call a no-op.
func (e *Engine) Replay(ctx context.Context) (ReplayReport, error) {
	var report ReplayReport
	if !e.replayMu.TryLock() {
		report.Skipped = true
		return report, nil
	}
	defer e.replayMu.Unlock()

	if !e.Online() && !e.Probe(ctx) {
		return report, nil
	}

	queue, err := e.Pending()
	if err != nil {
		return report, err
	}
	ids := make([]string, 0, len(queue))
	for _, op := range queue {
		ids = append(ids, op.ID)
	}

	for _, opID := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.replayOne(ctx, opID, &report); err != nil {
			return report, err
		}
	}

	if report.Succeeded > 0 && e.onRefresh != nil {
		items, err := e.cachedNotes()
		if err != nil {
			return report, err
		}
		e.onRefresh(items)
	}
	if report.Attempted > 0 {
		e.logf("replay: attempted=%d succeeded=%d failed=%d deferred=%d discarded=%d parked=%d",
			report.Attempted, report.Succeeded, report.Failed, report.Deferred, report.Discarded, report.Parked)
	}
	return report, nil
}

func (e *Engine) replayOne(ctx context.Context, opID string, report *ReplayReport) error {
	op, ok, err := e.lookupOperation(opID)
	if err != nil || !ok {
		return err
	}
	unlock := e.noteLocks.Lock(op.Note.ID)
	defer unlock()

	if op.Action != ActionCreate && notes.IsTemporaryID(op.Note.ID) {
		queue, err := e.Pending()
		if err != nil {
			return err
		}
		if hasPendingCreate(queue, op.Note.ID) {
			report.Deferred++
			return nil
		}
		state, err := e.syncState()
		if err != nil {
			return err
		}
		serverID, ok := state.resolve(op.Note.ID)
		switch {
		case ok:
			op.Note.ID = serverID
			err := e.withCache(func() error {
				queue, err := e.cache.ReadQueue()
				if err != nil {
					return err
				}
				return e.cache.WriteQueue(replaceOperation(queue, op))
			})
			if err != nil {
				return err
			}
		case hasPendingCreate(state.DeadLetters, op.Note.ID):
			return e.park(op, fmt.Errorf("create of %s is parked", op.Note.ID), report)
		default:
			return e.discard(op, fmt.Errorf("%w: %s was never created remotely", notes.ErrNotFound, op.Note.ID), report)
		}
	}

	var result notes.Note
	switch op.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
		report.Attempted++
	default:
		return e.discard(op, fmt.Errorf("%w: unknown action %q", notes.ErrInvalidInput, op.Action), report)
	}
	switch op.Action {
	case ActionCreate:
		result, err = e.client.Create(ctx, op.input())
	case ActionUpdate:
		result, err = e.client.Update(ctx, op.Note.ID, op.input())
	case ActionDelete:
		err = e.client.Delete(ctx, op.Note.ID)
	}

	switch {
	case err == nil:
		report.Succeeded++
		return e.withCache(func() error { return e.confirmLocked(op, result) })
	case notes.IsUnavailable(err):
		report.Failed++
		e.wentOffline(err)
		return nil
	case notes.IsTerminal(err):
		return e.discard(op, err, report)
	}

	op.Attempts++
	op.LastError = err.Error()
	if op.Attempts >= e.maxAttempts {
		return e.park(op, err, report)
	}
	report.Failed++
	e.logf("replay: %s %s failed (attempt %d/%d): %v", op.Action, op.Note.ID, op.Attempts, e.maxAttempts, err)
	return e.withCache(func() error {
		queue, err := e.cache.ReadQueue()
		if err != nil {
			return err
		}
		return e.cache.WriteQueue(replaceOperation(queue, op))
	})
}

// confirmLocked drops a replayed operation from the queue. A confirmed
// create also swaps the temporary note for the server copy and repoints
// later operations at the server id.
func (e *Engine) confirmLocked(op PendingOperation, result notes.Note) error {
	queue, err := e.cache.ReadQueue()
	if err != nil {
		return err
	}
	queue = removeOperation(queue, op.ID)
	switch op.Action {
	case ActionCreate:
		queue = remapNoteID(queue, op.Note.ID, result.ID)
		items, err := e.cache.ReadNotes()
		if err != nil {
			return err
		}
		if i := notes.IndexOf(items, op.Note.ID); i >= 0 {
			items[i] = result
			notes.SortByUpdated(items)
			if err := e.cache.WriteNotes(items); err != nil {
				return err
			}
		}
		state, err := e.cache.ReadState()
		if err != nil {
			return err
		}
		state.addAlias(op.Note.ID, result.ID)
		if err := e.cache.WriteState(state); err != nil {
			return err
		}
	case ActionUpdate:
		if err := e.replaceExistingLocked(op.Note.ID, result); err != nil {
			return err
		}
	}
	return e.cache.WriteQueue(queue)
}

func (e *Engine) discard(op PendingOperation, cause error, report *ReplayReport) error {
	report.Discarded++
	err := e.withCache(func() error {
		queue, err := e.cache.ReadQueue()
		if err != nil {
			return err
		}
		if op.Action == ActionCreate {
			if err := e.removeCachedLocked(op.Note.ID); err != nil {
				return err
			}
		}
		return e.cache.WriteQueue(removeOperation(queue, op.ID))
	})
	if err != nil {
		return err
	}
	e.logf("replay: discarded %s %s: %v", op.Action, op.Note.ID, cause)
	if e.onDiscard != nil {
		e.onDiscard(op, cause)
	}
	return nil
}

// park moves op out of the queue into the parked list. The cached note is
// left alone so nothing the user wrote is lost.
func (e *Engine) park(op PendingOperation, cause error, report *ReplayReport) error {
	report.Parked++
	err := e.withCache(func() error {
		state, err := e.cache.ReadState()
		if err != nil {
			return err
		}
		queue, err := e.cache.ReadQueue()
		if err != nil {
			return err
		}
		state.DeadLetters = append(state.DeadLetters, op)
		if err := e.cache.WriteState(state); err != nil {
			return err
		}
		return e.cache.WriteQueue(removeOperation(queue, op.ID))
	})
	if err != nil {
		return err
	}
	e.logf("replay: parked %s %s after %d attempts: %v", op.Action, op.Note.ID, op.Attempts, cause)
	if e.onPark != nil {
		e.onPark(op, cause)
	}
	return nil
}

func (e *Engine) syncState() (SyncState, error) {
	var state SyncState
	err := e.withCache(func() error {
		var err error
		state, err = e.cache.ReadState()
		return err
	})
	return state, err
}

// lockNote serializes work on id. A temporary id that an earlier replay has
// already created remotely is followed to its server id, which is locked too.
func (e *Engine) lockNote(id string) (string, func(), error) {
	unlock := e.noteLocks.Lock(id)
	if !notes.IsTemporaryID(id) {
		return id, unlock, nil
	}
	state, err := e.syncState()
	if err != nil {
		unlock()
		return "", nil, err
	}
	serverID, ok := state.resolve(id)
	if !ok {
		return id, unlock, nil
	}
	unlockServer := e.noteLocks.Lock(serverID)
	return serverID, func() {
		unlockServer()
		unlock()
	}, nil
}

func (e *Engine) lookupOperation(opID string) (PendingOperation, bool, error) {
	queue, err := e.Pending()
	if err != nil {
		return PendingOperation{}, false, err
	}
	op, ok := findOperation(queue, opID)
	return op, ok, nil
}

// storeRemoteList overwrites the cached notes with the remote list. Notes
// with queued changes keep their local state until replay confirms them.
func (e *Engine) storeRemoteList(remote []notes.Note) ([]notes.Note, error) {
	var merged []notes.Note
	err := e.withCache(func() error {
		queue, err := e.cache.ReadQueue()
		if err != nil {
			return err
		}
		cached, err := e.cache.ReadNotes()
		if err != nil {
			return err
		}
		merged = mergePending(remote, cached, queue)
		return e.cache.WriteNotes(merged)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func mergePending(remote, cached []notes.Note, queue []PendingOperation) []notes.Note {
	if len(queue) == 0 {
		out := append([]notes.Note{}, remote...)
		notes.SortByUpdated(out)
		return out
	}
	deleted := map[string]struct{}{}
	changed := map[string]struct{}{}
	for _, op := range queue {
		switch op.Action {
		case ActionDelete:
			deleted[op.Note.ID] = struct{}{}
		default:
			changed[op.Note.ID] = struct{}{}
		}
	}
	out := make([]notes.Note, 0, len(remote)+len(cached))
	seen := map[string]struct{}{}
	for _, note := range cached {
		if _, ok := changed[note.ID]; !ok {
			continue
		}
		if _, ok := deleted[note.ID]; ok {
			continue
		}
		out = append(out, note)
		seen[note.ID] = struct{}{}
	}
	for _, note := range remote {
		if _, ok := seen[note.ID]; ok {
			continue
		}
		if _, ok := deleted[note.ID]; ok {
			continue
		}
		out = append(out, note)
	}
	notes.SortByUpdated(out)
	return out
}

func (e *Engine) cachedNotes() ([]notes.Note, error) {
	var items []notes.Note
	err := e.withCache(func() error {
		var err error
		items, err = e.cache.ReadNotes()
		return err
	})
	if items == nil {
		items = []notes.Note{}
	}
	return items, err
}

func (e *Engine) prependCachedLocked(note notes.Note, replaceID string) error {
	items, err := e.cache.ReadNotes()
	if err != nil {
		return err
	}
	out := make([]notes.Note, 0, len(items)+1)
	out = append(out, note)
	for _, existing := range items {
		if existing.ID == note.ID || (replaceID != "" && existing.ID == replaceID) {
			continue
		}
		out = append(out, existing)
	}
	return e.cache.WriteNotes(out)
}

// replaceCachedLocked overwrites the cached copy of id, adding it when the
// cache has never seen it.
func (e *Engine) replaceCachedLocked(id string, note notes.Note) error {
	items, err := e.cache.ReadNotes()
	if err != nil {
		return err
	}
	if i := notes.IndexOf(items, id); i >= 0 {
		items[i] = note
	} else {
		items = append(items, note)
	}
	notes.SortByUpdated(items)
	return e.cache.WriteNotes(items)
}

func (e *Engine) replaceExistingLocked(id string, note notes.Note) error {
	items, err := e.cache.ReadNotes()
	if err != nil {
		return err
	}
	i := notes.IndexOf(items, id)
	if i < 0 {
		return nil
	}
	items[i] = note
	notes.SortByUpdated(items)
	return e.cache.WriteNotes(items)
}

func (e *Engine) removeCachedLocked(id string) error {
	items, err := e.cache.ReadNotes()
	if err != nil {
		return err
	}
	i := notes.IndexOf(items, id)
	if i < 0 {
		return nil
	}
	items = append(items[:i], items[i+1:]...)
	return e.cache.WriteNotes(items)
}

func (e *Engine) enqueueLocked(action Action, note notes.Note) error {
	queue, err := e.cache.ReadQueue()
	if err != nil {
		return err
	}
	op := PendingOperation{
		ID:         e.newID(),
		Action:     action,
		Note:       note,
		EnqueuedAt: e.now().UTC(),
	}
	if err := e.cache.WriteQueue(append(queue, op)); err != nil {
		return err
	}
	if e.onQueued != nil {
		e.onQueued(op)
	}
	return nil
}

// withCache runs fn holding the engine mutex and, for shared caches, the
// cross-process lock.
func (e *Engine) withCache(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locker != nil {
		release, err := e.locker.Lock()
		if err != nil {
			return fmt.Errorf("lock cache: %w", err)
		}
		defer release()
	}
	return fn()
}

func (e *Engine) wentOffline(cause error) {
	if e.setOnline(false) {
		e.logf("remote store unreachable, working offline: %v", cause)
	}
}

// setOnline records connectivity and reports whether it changed.
func (e *Engine) setOnline(online bool) bool {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()
	if changed && e.onConnectivity != nil {
		e.onConnectivity(online)
	}
	return changed
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/internal/database"
)

// ErrStaleCheckpoint indicates a checkpoint write was rejected because
// the stored checkpoint already supersedes it.
var ErrStaleCheckpoint = errors.New("stale checkpoint write rejected")

// Checkpoint field names within the state document blob.
const (
	stateFieldKind            = "kind"
	stateFieldLastIndexedID   = "last_indexed_id"
	stateFieldLastIndexedTime = "last_indexed_commit_time_ms"
	stateFieldLastServerID    = "last_id_on_server"
	stateFieldLastServerTime  = "last_commit_time_on_server_ms"
	stateFieldLastRunStart    = "last_run_start_ms"
	stateFieldHoleRetentionMs = "hole_retention_ms"
	stateFieldVersion         = "version"
)

// kindDocIDs gives each tracker kind a stable document id within its
// core's checkpoint namespace.
var kindDocIDs = map[tracker.Kind]int64{
	tracker.KindMetadata: 1,
	tracker.KindAcl:      2,
	tracker.KindCascade:  3,
	tracker.KindContent:  4,
}

// StateStore persists tracker checkpoints as state documents in the
// index itself, so checkpoint and content share one durability domain.
// Writes bypass the engine's mutation buffer: a checkpoint only ever
// advances after the run's index commit has already succeeded.
type StateStore struct {
	db database.Database
}

// NewStateStore creates a StateStore on the given database.
func NewStateStore(db database.Database) StateStore {
	return StateStore{db: db}
}

func stateKey(core string, kind tracker.Kind) (document.Key, error) {
	id, ok := kindDocIDs[kind]
	if !ok {
		return document.Key{}, fmt.Errorf("unknown tracker kind %q", kind)
	}
	return document.NewKey(core, id, document.TypeState), nil
}

// Load reads the checkpoint for a core and tracker kind. When no
// checkpoint exists an empty state with the given hole retention is
// returned.
func (s StateStore) Load(ctx context.Context, core string, kind tracker.Kind, holeRetention time.Duration) (tracker.State, error) {
	key, err := stateKey(core, kind)
	if err != nil {
		return tracker.State{}, err
	}

	var rows []DocumentModel
	err = s.db.Session(ctx).
		Where("tenant = ? AND doc_type = ? AND doc_id = ?",
			key.Tenant(), string(key.Type()), key.ID()).
		Order("pk ASC").Limit(1).Find(&rows).Error
	if err != nil {
		return tracker.State{}, fmt.Errorf("load checkpoint %s/%s: %w", core, kind, err)
	}
	if len(rows) == 0 {
		return tracker.NewState(core, kind, holeRetention), nil
	}

	doc, err := toStored(rows[0])
	if err != nil {
		return tracker.State{}, err
	}

	retention := holeRetention
	if ms, ok := doc.Int64Field(stateFieldHoleRetentionMs); ok && ms > 0 {
		retention = time.Duration(ms) * time.Millisecond
	}
	lastIndexedID, _ := doc.Int64Field(stateFieldLastIndexedID)
	lastIndexedTime, _ := doc.Int64Field(stateFieldLastIndexedTime)
	lastServerID, _ := doc.Int64Field(stateFieldLastServerID)
	lastServerTime, _ := doc.Int64Field(stateFieldLastServerTime)
	lastRunStart, _ := doc.Int64Field(stateFieldLastRunStart)
	version, _ := doc.Int64Field(stateFieldVersion)

	return tracker.ReconstructState(
		core, kind,
		lastIndexedID, lastIndexedTime,
		lastServerID, lastServerTime,
		lastRunStart,
		retention,
		version,
	), nil
}

// Save writes the checkpoint, rejecting the write with ErrStaleCheckpoint
// when the stored checkpoint already supersedes the incoming one. The
// read-check-write runs in one transaction so two concurrent writers
// cannot interleave.
func (s StateStore) Save(ctx context.Context, state tracker.State) error {
	return s.write(ctx, state, true)
}

// Overwrite writes the checkpoint unconditionally. This is the rollback
// path: moving a checkpoint backward is deliberate there, so the
// supersession guard does not apply.
func (s StateStore) Overwrite(ctx context.Context, state tracker.State) error {
	return s.write(ctx, state, false)
}

func (s StateStore) write(ctx context.Context, state tracker.State, guarded bool) error {
	key, err := stateKey(state.Core(), state.Kind())
	if err != nil {
		return err
	}

	return database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var rows []DocumentModel
		err := tx.Where("tenant = ? AND doc_type = ? AND doc_id = ?",
			key.Tenant(), string(key.Type()), key.ID()).
			Order("pk ASC").Find(&rows).Error
		if err != nil {
			return fmt.Errorf("read checkpoint %s/%s: %w", state.Core(), state.Kind(), err)
		}

		if guarded && len(rows) > 0 {
			stored, err := toStored(rows[0])
			if err != nil {
				return err
			}
			storedID, _ := stored.Int64Field(stateFieldLastIndexedID)
			storedTime, _ := stored.Int64Field(stateFieldLastIndexedTime)
			current := tracker.ReconstructState(
				state.Core(), state.Kind(),
				storedID, storedTime,
				0, 0, 0, state.HoleRetention(), 0,
			)
			if !state.NewerThan(current) {
				return fmt.Errorf("%w: %s/%s", ErrStaleCheckpoint, state.Core(), state.Kind())
			}
		}

		fields := map[string]any{
			stateFieldKind:            state.Kind().String(),
			stateFieldLastIndexedID:   state.LastIndexedID(),
			stateFieldLastIndexedTime: state.LastIndexedCommitTime(),
			stateFieldLastServerID:    state.LastIDOnServer(),
			stateFieldLastServerTime:  state.LastCommitTimeOnServer(),
			stateFieldLastRunStart:    state.LastRunStart(),
			stateFieldHoleRetentionMs: state.HoleRetention().Milliseconds(),
			stateFieldVersion:         state.Version(),
		}
		model, err := toModel(key, fields)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			model.PK = rows[0].PK
			return tx.Save(&model).Error
		}
		return tx.Create(&model).Error
	})
}

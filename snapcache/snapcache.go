// Package snapcache implements the on-disk snapshot cache coordinator:
// four modes (lazy/ensure/rebuild/none), corruption-tolerant reads,
// atomic writes, in-process single-flight, and cross-process lockfiles
// with staleness detection.
package snapcache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gofhir/snapshotgen/element"
	"github.com/gofhir/snapshotgen/loader"
	"github.com/gofhir/snapshotgen/logger"
)

// Mode selects the coordinator's read/write/pre-work behaviour.
type Mode string

// Cache modes.
const (
	ModeLazy    Mode = "lazy"
	ModeEnsure  Mode = "ensure"
	ModeRebuild Mode = "rebuild"
	ModeNone    Mode = "none"
)

const (
	lockStaleAge  = 3 * time.Minute
	lockPollEvery = 100 * time.Millisecond
	lockWaitSlack = 10 * time.Second
)

// flightGroup is the in-process single-flight layer: a
// module-global map from key to pending result, so a concurrent caller
// for the same (package, filename) awaits the existing generation
// instead of starting its own.
var flightGroup singleflight.Group

// ErrSkip is returned by a Precache generate callback for a filename
// that should not be cached at all (a base type rather than a profile).
// Precache treats it as a silent no-op, not a failure, so the
// post-rebuild file set contains exactly the profile filenames.
var ErrSkip = fmt.Errorf("snapcache: skip")

// GenerateFunc produces a profile's snapshot elements on a cache miss.
type GenerateFunc func(ctx context.Context) ([]element.Element, error)

// cacheFile is the on-disk shape: a StructureDefinition-shaped object
// whose snapshot.element carries the generated sequence and whose
// __core_package names the base library used for type resolution. A
// file that parses but lacks resourceType is treated as corrupt.
type cacheFile struct {
	ResourceType string         `json:"resourceType"`
	CorePackage  *cachedCoreRef `json:"__core_package,omitempty"`
	Snapshot     cachedSnapshot `json:"snapshot"`
}

type cachedCoreRef struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type cachedSnapshot struct {
	Element []element.Element `json:"element"`
}

// Coordinator gates snapshot generation behind the on-disk cache.
type Coordinator struct {
	root          string
	engineVersion string // "major.minor"
	mode          Mode
	log           logger.Interface
	coalesced     func()
}

// New constructs a Coordinator rooted at cacheRoot, keyed additionally by
// engineVersion ("major.minor", used in the on-disk directory name).
func New(cacheRoot, engineVersion string, mode Mode, log logger.Interface) *Coordinator {
	if log == nil {
		log = logger.Noop{}
	}
	return &Coordinator{root: cacheRoot, engineVersion: engineVersion, mode: mode, log: log}
}

// Mode returns the coordinator's configured mode.
func (c *Coordinator) Mode() Mode { return c.mode }

// OnCoalesced registers fn to be invoked whenever a call is coalesced
// onto another caller's in-flight generation instead of running its own.
func (c *Coordinator) OnCoalesced(fn func()) { c.coalesced = fn }

func (c *Coordinator) dir(pkg loader.PackageRef) string {
	return filepath.Join(c.root, pkg.ID+"#"+pkg.Version, ".fsg.snapshots", "v"+c.engineVersion+".x")
}

func (c *Coordinator) path(pkg loader.PackageRef, filename string) string {
	return filepath.Join(c.dir(pkg), filename)
}

// GetSnapshot returns pkg/filename's cached snapshot, generating (and, in
// caching modes, persisting) it on a miss via generate. core is the
// base-library package stamped into the written cache file's
// __core_package annotation.
func (c *Coordinator) GetSnapshot(ctx context.Context, pkg loader.PackageRef, filename string, core loader.PackageRef, generate GenerateFunc) ([]element.Element, error) {
	if c.mode == ModeNone {
		return generate(ctx)
	}

	path := c.path(pkg, filename)
	if els, ok, err := readCache(path); err != nil {
		return nil, err
	} else if ok {
		return els, nil
	}

	key := pkg.ID + "#" + pkg.Version + "/" + filename
	v, err, shared := flightGroup.Do(key, func() (any, error) {
		return c.generateAndCache(ctx, path, core, generate)
	})
	if shared && c.coalesced != nil {
		c.coalesced()
	}
	if err != nil {
		return nil, err
	}
	return v.([]element.Element), nil
}

// generateAndCache acquires the cross-process lock (or observes a
// concurrent writer's result), regenerates if still a miss, and writes
// the result atomically.
func (c *Coordinator) generateAndCache(ctx context.Context, path string, core loader.PackageRef, generate GenerateFunc) ([]element.Element, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	acquired, release, err := acquireOrWait(ctx, lockPath, path)
	if err != nil {
		return nil, err
	}
	if !acquired {
		if els, ok, err := readCache(path); err != nil {
			return nil, err
		} else if ok {
			return els, nil
		}
		// Lock contention resolved without a written result (e.g. the
		// other writer crashed after releasing). Fall through and
		// generate unguarded; the atomic no-overwrite write stays safe.
	} else {
		defer release()
		if els, ok, err := readCache(path); err != nil {
			return nil, err
		} else if ok {
			return els, nil
		}
	}

	result, genErr := generate(ctx)
	if genErr != nil {
		return nil, genErr
	}
	if err := writeCacheAtomic(path, result, core); err != nil {
		return nil, err
	}
	return result, nil
}

// Precache implements the create()-time pre-work for ensure/rebuild
// modes: rebuild first deletes every context package's
// cache directory, then both behave identically: iterate every profile
// in context, generating and writing whatever is not already cached.
// Per-file errors are accumulated and logged in one batch at the end;
// one failing profile never aborts the others.
func (c *Coordinator) Precache(ctx context.Context, pl loader.PackageLoader, generate func(ctx context.Context, pkg loader.PackageRef, filename string) ([]element.Element, loader.PackageRef, error)) error {
	if c.mode != ModeEnsure && c.mode != ModeRebuild {
		return nil
	}

	packages, err := pl.ContextPackages(ctx)
	if err != nil {
		return err
	}

	if c.mode == ModeRebuild {
		for _, pkg := range packages {
			_ = os.RemoveAll(c.dir(pkg))
		}
	}

	var (
		mu       sync.Mutex
		failures []error
	)
	record := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, pkg := range packages {
		filenames, err := pl.Filenames(ctx, pkg)
		if err != nil {
			record(fmt.Errorf("%s: %w", pkg, err))
			continue
		}
		for _, filename := range filenames {
			pkg, filename := pkg, filename
			g.Go(func() error {
				path := c.path(pkg, filename)
				if _, ok, err := readCache(path); err == nil && ok {
					return nil
				}
				result, core, genErr := generate(gctx, pkg, filename)
				if errors.Is(genErr, ErrSkip) {
					return nil
				}
				if genErr != nil {
					record(fmt.Errorf("%s/%s: %w", pkg, filename, genErr))
					return nil
				}
				if err := writeCacheAtomic(path, result, core); err != nil {
					record(fmt.Errorf("%s/%s: %w", pkg, filename, err))
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if len(failures) > 0 {
		for _, fail := range failures {
			c.log.Error("precache: %v", fail)
		}
		return fmt.Errorf("snapcache: %d file(s) failed to precache", len(failures))
	}
	return nil
}

// readCache reads and parses the cache file at path, treating empty
// files, parse failures, and parseable files lacking resourceType as a
// miss (best-effort deleting the bad file); non-parse IO errors
// propagate.
func readCache(path string) ([]element.Element, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	if strings.TrimSpace(string(data)) == "" {
		_ = os.Remove(path)
		return nil, false, nil
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil || f.ResourceType == "" {
		_ = os.Remove(path)
		return nil, false, nil
	}
	return f.Snapshot.Element, true, nil
}

// writeCacheAtomic writes els to a sibling temp file, then moves it onto
// path without overwriting an existing file (achieved via Link, which
// fails with EEXIST if path already exists). If another writer won the
// race, that counts as success. The temp file is always cleaned up.
func writeCacheAtomic(path string, els []element.Element, core loader.PackageRef) error {
	f := cacheFile{
		ResourceType: "StructureDefinition",
		Snapshot:     cachedSnapshot{Element: els},
	}
	if core.ID != "" {
		f.CorePackage = &cachedCoreRef{ID: core.ID, Version: core.Version}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := tempName(path)
	defer os.Remove(tmp)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	if err := os.Link(tmp, path); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func tempName(final string) string {
	dir := filepath.Dir(final)
	base := filepath.Base(final)
	return filepath.Join(dir, fmt.Sprintf("%s.%d.%d.%s.tmp", base, os.Getpid(), time.Now().UnixMilli(), randomHex(8)))
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// lockContent is the lockfile's JSON body: who holds it, and since when.
type lockContent struct {
	PID       int       `json:"pid"`
	Timestamp time.Time `json:"timestamp"`
	Hostname  string    `json:"hostname"`
}

// acquireOrWait attempts to acquire lockPath, retrying through stale
// locks, and polling for either the cache file to appear (someone else
// finished) or the lock to disappear/become stale, for up to
// lockStaleAge+lockWaitSlack.
func acquireOrWait(ctx context.Context, lockPath, cachePath string) (acquired bool, release func(), err error) {
	for {
		acquired, release, err := tryAcquire(lockPath)
		if err != nil {
			return false, nil, err
		}
		if acquired {
			return true, release, nil
		}

		deadline := time.Now().Add(lockStaleAge + lockWaitSlack)
		for {
			if _, ok, rerr := readCache(cachePath); rerr == nil && ok {
				return false, nil, nil
			}

			stale, statErr := isLockStale(lockPath)
			if statErr != nil {
				if os.IsNotExist(statErr) {
					break // lock vanished; retry acquisition
				}
				return false, nil, statErr
			}
			if stale {
				_ = os.Remove(lockPath)
				break // retry acquisition
			}

			if time.Now().After(deadline) {
				return false, nil, fmt.Errorf("snapcache: timed out waiting for lock %s", lockPath)
			}

			select {
			case <-ctx.Done():
				return false, nil, ctx.Err()
			case <-time.After(lockPollEvery):
			}
		}
	}
}

// tryAcquire attempts one atomic-create of lockPath. ok=false, err=nil
// means another process holds it (not our error to report).
func tryAcquire(lockPath string) (ok bool, release func(), err error) {
	content := lockContent{PID: os.Getpid(), Timestamp: time.Now(), Hostname: hostname()}
	data, err := json.Marshal(content)
	if err != nil {
		return false, nil, err
	}

	tmp := tempName(lockPath)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, nil, err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, lockPath); err != nil {
		if os.IsExist(err) {
			return false, nil, nil
		}
		return false, nil, err
	}

	release = func() {
		data, err := os.ReadFile(lockPath)
		if err != nil {
			return
		}
		var got lockContent
		if json.Unmarshal(data, &got) != nil {
			return
		}
		if got.PID == content.PID && got.Hostname == content.Hostname {
			_ = os.Remove(lockPath)
		}
	}
	return true, release, nil
}

// isLockStale reports whether the lock at lockPath is stale: older than
// lockStaleAge, unparseable, or naming a local pid that no longer exists.
func isLockStale(lockPath string) (bool, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false, err
	}

	var c lockContent
	if json.Unmarshal(data, &c) != nil {
		return true, nil
	}
	if time.Since(c.Timestamp) > lockStaleAge {
		return true, nil
	}
	if c.Hostname == hostname() && !processAlive(c.PID) {
		return true, nil
	}
	return false, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

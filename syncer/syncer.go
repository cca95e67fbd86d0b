// Package syncer implements the per device synchronisation engine between the
// cloud API and the local capability model.
//
// Each device runs one engine. The read path polls the cloud on a fixed
// interval, parses the payload into a State snapshot and hands it to the
// Sink. The write path coalesces bursts of intent changes behind a resettable
// debounce timer and sends at most one command, formed from the latest Target
// at the moment the timer fires. A single in flight guard keeps the two paths
// from racing: a poll tick which lands while a push is on the wire is skipped
// outright, and a push which fires while another is still on the wire re-arms
// itself for a later window.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/persistence/converter"
)

// State is a complete parsed snapshot of cloud status, semantic field name to
// value. Snapshots are replaced wholesale on each successful poll, consumers
// never observe a partial update.
type State map[string]any

// Target is the locally desired state, mutated only by SetTarget. A push in
// flight does not freeze it, the Mapper reads the latest value at send time.
type Target map[string]any

// Parser maps a raw status payload into semantic state. Implementations must
// be pure: no I/O, and identical input yields identical output. Missing
// optional fields substitute defined defaults rather than being omitted.
type Parser func(raw json.RawMessage) (State, error)

// Mapper forms at most one outbound command from the current target state.
// Returning a nil command with a nil error means there is nothing to send. An
// error is a mapping failure, it is reported and no network call is made.
type Mapper func(target Target) (*cloud.Command, error)

// Sink receives parsed state snapshots and error indications on behalf of the
// host framework. UpdateState also carries optimistic echoes of intent, so the
// host reflects a change before the cloud confirms it.
type Sink interface {
	UpdateState(State)
	UpdateError(error)
}

// SinkFuncs adapts plain functions to the Sink interface. A nil function
// drops the corresponding notification.
type SinkFuncs struct {
	State func(State)
	Error func(error)
}

func (s SinkFuncs) UpdateState(st State) {
	if s.State != nil {
		s.State(st)
	}
}

func (s SinkFuncs) UpdateError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}

// Config carries the per device type behaviour into an engine.
type Config struct {
	Parser Parser
	Mapper Mapper
	Sink   Sink
}

// Settings is the per device tuning applied at Attach time.
type Settings struct {
	// PollInterval of 0 disables the read path entirely, for devices with
	// no status endpoint.
	PollInterval time.Duration
	Debounce     time.Duration
}

// Syncer is the engine lifecycle as seen by capability implementations.
type Syncer interface {
	Init(s persistence.Section, d da.Device, c Config)
	Load(ctx context.Context) error
	Attach(ctx context.Context, settings Settings) error
	Detach(ctx context.Context, unconfigure bool) error

	// SetTarget applies intent changes and (re)arms the debounce timer. It
	// never blocks on network I/O.
	SetTarget(changes map[string]any)
	// Target returns a copy of the current target state.
	Target() Target
	// LastState returns a copy of the last successfully parsed snapshot.
	LastState() State
	// Refresh requests a poll outside the regular cadence.
	Refresh()
	// Send pushes a single momentary command, serialised with the engine's
	// other network traffic but outside the debounce window. Stateless
	// controls such as remote buttons use this, distinct presses must not
	// coalesce.
	Send(ctx context.Context, cmd cloud.Command) error
}

const ConfiguredKey = "SyncConfigured"
const PollIntervalKey = "PollInterval"
const DebounceKey = "Debounce"

const DefaultPollInterval = 60 * time.Second
const DefaultDebounce = 500 * time.Millisecond

const requestTimeout = 5 * time.Second

// NewEngine constructs an engine against the shared cloud requester. The
// engine is inert until Load or Attach starts its loops.
func NewEngine(r cloud.Requester, l logwrap.Logger) Syncer {
	return &engine{
		requester: r,
		logger:    &l,
		refresh:   make(chan struct{}, 1),
	}
}

type engine struct {
	requester cloud.Requester
	logger    *logwrap.Logger

	config persistence.Section
	device da.Device
	parse  Parser
	form   Mapper
	sink   Sink

	pollInterval time.Duration
	debounce     time.Duration

	// inFlight marks a push on the wire, io serialises the network calls of
	// the two paths so a poll never overlaps a push.
	inFlight atomic.Bool
	io       sync.Mutex

	m        sync.Mutex
	target   Target
	observed State
	timer    *time.Timer
	running  bool
	stop     chan struct{}

	refresh chan struct{}
}

func (e *engine) Init(s persistence.Section, d da.Device, c Config) {
	e.config = s
	e.device = d
	e.parse = c.Parser
	e.form = c.Mapper
	e.sink = c.Sink

	e.target = Target{}
	e.observed = State{}

	e.logger.AddOptionsToLogger(logwrap.Datum("Identifier", d.Identifier().String()))
}

func (e *engine) Load(pctx context.Context) error {
	ctx, end := e.logger.Segment(pctx, "Loading syncer.")
	defer end()

	if v, ok := e.config.Bool(ConfiguredKey); !ok || !v {
		e.logger.LogError(ctx, "Required config parameter missing.", logwrap.Datum("name", ConfiguredKey))
		return fmt.Errorf("syncer missing config parameter: %s", ConfiguredKey)
	}

	pollInterval, _ := converter.Retrieve(e.config, PollIntervalKey, converter.DurationDecoder, DefaultPollInterval)
	debounce, _ := converter.Retrieve(e.config, DebounceKey, converter.DurationDecoder, DefaultDebounce)

	e.start(ctx, pollInterval, debounce)
	return nil
}

func (e *engine) Attach(pctx context.Context, settings Settings) error {
	ctx, end := e.logger.Segment(pctx, "Attaching syncer.")
	defer end()

	if settings.Debounce <= 0 {
		settings.Debounce = DefaultDebounce
	}

	if settings.PollInterval < 0 {
		return fmt.Errorf("syncer poll interval must not be negative")
	}

	e.config.Set(ConfiguredKey, true)
	converter.Store(e.config, PollIntervalKey, settings.PollInterval, converter.DurationEncoder)
	converter.Store(e.config, DebounceKey, settings.Debounce, converter.DurationEncoder)

	e.start(ctx, settings.PollInterval, settings.Debounce)
	return nil
}

// start is idempotent, a second call while running changes nothing and
// creates no duplicate timers.
func (e *engine) start(ctx context.Context, pollInterval time.Duration, debounce time.Duration) {
	e.m.Lock()
	defer e.m.Unlock()

	if e.running {
		return
	}

	e.running = true
	e.pollInterval = pollInterval
	e.debounce = debounce
	e.stop = make(chan struct{})

	e.logger.LogInfo(ctx, "Syncer started.", logwrap.Datum("pollIntervalMs", pollInterval.Milliseconds()), logwrap.Datum("debounceMs", debounce.Milliseconds()))

	if e.pollInterval > 0 && e.parse != nil {
		go e.pollLoop(e.stop, e.pollInterval)
		e.requestRefresh()
	}
}

func (e *engine) Detach(ctx context.Context, unconfigure bool) error {
	e.m.Lock()

	if e.running {
		e.running = false
		close(e.stop)
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	e.m.Unlock()

	if unconfigure {
		e.config.Delete(ConfiguredKey)
		e.config.Delete(PollIntervalKey)
		e.config.Delete(DebounceKey)
	}

	e.logger.LogInfo(ctx, "Syncer stopped.", logwrap.Datum("Unconfigure", unconfigure))
	return nil
}

func (e *engine) pollLoop(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.poll()
		case <-e.refresh:
			e.poll()
		}
	}
}

func (e *engine) poll() {
	// A tick during a push is dropped entirely, the next tick retries. This
	// keeps a stale pre-command status from overwriting the optimistic echo.
	if e.inFlight.Load() {
		e.logger.LogDebug(context.Background(), "Poll skipped, push in flight.")
		return
	}

	e.io.Lock()
	defer e.io.Unlock()

	if e.inFlight.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	raw, err := e.requester.Status(ctx, e.device.Identifier().String())
	if err != nil {
		e.logger.LogWarn(ctx, "Status poll failed.", logwrap.Err(err))
		e.sink.UpdateError(err)
		return
	}

	state, err := e.parse(raw)
	if err != nil {
		e.logger.LogWarn(ctx, "Status payload unparsable.", logwrap.Err(err))
		e.sink.UpdateError(err)
		return
	}

	e.m.Lock()
	e.observed = state
	e.m.Unlock()

	e.sink.UpdateState(copyState(state))
}

func (e *engine) SetTarget(changes map[string]any) {
	e.m.Lock()

	for k, v := range changes {
		e.target[k] = v
	}

	optimistic := copyState(e.observed)
	for k, v := range changes {
		optimistic[k] = v
	}

	// Intent recorded after Detach never arms the push timer.
	if e.form != nil && e.running {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.timer = time.AfterFunc(e.debounce, e.push)
	}

	e.m.Unlock()

	// Echo intent immediately so the host reflects the change before the
	// cloud confirms it.
	e.sink.UpdateState(optimistic)
}

func (e *engine) push() {
	if !e.inFlight.CompareAndSwap(false, true) {
		// Another push is still on the wire, come back in a full window.
		e.m.Lock()
		if e.running {
			e.timer = time.AfterFunc(e.debounce, e.push)
		}
		e.m.Unlock()
		return
	}

	defer func() {
		e.inFlight.Store(false)
		e.requestRefresh()
	}()

	e.io.Lock()
	defer e.io.Unlock()

	cmd, err := e.form(e.Target())
	if err != nil {
		e.logger.LogError(context.Background(), "No valid command for target state.", logwrap.Err(err))
		e.sink.UpdateError(err)
		return
	}

	if cmd == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := e.requester.SendCommand(ctx, e.device.Identifier().String(), *cmd); err != nil {
		// Not retried here, the next poll reconciles actual device state
		// and a new intent restarts the write path.
		e.logger.LogWarn(ctx, "Command push failed.", logwrap.Err(err), logwrap.Datum("Command", cmd.Command))
		e.sink.UpdateError(err)
		return
	}

	e.logger.LogDebug(ctx, "Command pushed.", logwrap.Datum("Command", cmd.Command), logwrap.Datum("Parameter", cmd.Parameter))
}

func (e *engine) Send(pctx context.Context, cmd cloud.Command) error {
	e.io.Lock()
	defer e.io.Unlock()

	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()

	if err := e.requester.SendCommand(ctx, e.device.Identifier().String(), cmd); err != nil {
		e.logger.LogWarn(ctx, "Momentary command failed.", logwrap.Err(err), logwrap.Datum("Command", cmd.Command))
		return err
	}

	e.logger.LogDebug(ctx, "Momentary command sent.", logwrap.Datum("Command", cmd.Command))
	return nil
}

func (e *engine) Target() Target {
	e.m.Lock()
	defer e.m.Unlock()

	t := Target{}
	for k, v := range e.target {
		t[k] = v
	}

	return t
}

func (e *engine) LastState() State {
	e.m.Lock()
	defer e.m.Unlock()

	return copyState(e.observed)
}

func (e *engine) Refresh() {
	e.requestRefresh()
}

func (e *engine) requestRefresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

func copyState(s State) State {
	c := State{}
	for k, v := range s {
		c[k] = v
	}

	return c
}

var _ Syncer = (*engine)(nil)

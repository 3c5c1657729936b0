package manager

import (
	"context"
	"sort"
	"sync"

	"wabot-gateway/config"
	"wabot-gateway/internal/model"
	"wabot-gateway/internal/server"
	"wabot-gateway/internal/service"
	"wabot-gateway/internal/ws"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Options struct {
	Config    *config.Config
	NewClient service.ClientFactory
	// Store persists session definitions and last statuses. Optional.
	Store *model.SessionStore
	// Stream mirrors every session's events to Redis. Optional.
	Stream   *service.StreamRelay
	Security server.Security
	Media    *service.MediaFetcher
	Log      zerolog.Logger
}

// unit is one running session: controller, broadcaster and control server.
type unit struct {
	cfg     config.SessionConfig
	ctrl    *service.Controller
	hub     *ws.Hub
	server  *server.SessionServer
	webhook *service.WebhookRelay
}

// Manager maps session ids to their definitions and running units.
type Manager struct {
	opts Options
	log  zerolog.Logger

	mu    sync.RWMutex
	defs  map[string]config.SessionConfig
	units map[string]*unit
}

func New(opts Options) *Manager {
	if opts.Media == nil {
		opts.Media = service.NewMediaFetcher(0, opts.Config.MediaMaxBytes)
	}
	return &Manager{
		opts:  opts,
		log:   opts.Log.With().Str("component", "manager").Logger(),
		defs:  make(map[string]config.SessionConfig),
		units: make(map[string]*unit),
	}
}

// LoadStored registers every session saved in the registry store.
func (m *Manager) LoadStored(ctx context.Context) error {
	if m.opts.Store == nil {
		return nil
	}
	records, err := m.opts.Store.List(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		sc, err := m.opts.Config.Session(config.SessionConfig{
			ID:         rec.SessionID,
			Name:       rec.Name,
			Port:       rec.Port,
			WebhookURL: rec.WebhookURL,
		})
		if err != nil {
			m.log.Warn().Err(err).Str("session_id", rec.SessionID).Msg("skipping stored session")
			continue
		}
		m.defs[sc.ID] = sc
	}
	m.log.Info().Int("sessions", len(records)).Msg("loaded stored sessions")
	return nil
}

// Define registers a session unless one with the same id is already known,
// in which case the existing definition wins.
func (m *Manager) Define(ctx context.Context, sc config.SessionConfig) (config.SessionConfig, error) {
	m.mu.RLock()
	existing, ok := m.defs[sc.ID]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}
	if _, err := m.Create(ctx, sc); err != nil {
		return config.SessionConfig{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defs[sc.ID], nil
}

// Create validates and registers a new session, persisting it when a store is attached.
func (m *Manager) Create(ctx context.Context, sc config.SessionConfig) (model.SessionView, error) {
	sc, err := m.opts.Config.Session(sc)
	if err != nil {
		return model.SessionView{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.defs[sc.ID]; ok {
		return model.SessionView{}, model.ErrSessionExists
	}
	if err := m.checkPortLocked(sc); err != nil {
		return model.SessionView{}, err
	}

	rec := recordOf(sc)
	if m.opts.Store != nil {
		if err := m.opts.Store.Create(ctx, &rec); err != nil {
			return model.SessionView{}, err
		}
	}
	m.defs[sc.ID] = sc
	m.log.Info().Str("session_id", sc.ID).Int("port", sc.Port).Msg("session created")
	return model.NewSessionView(rec, nil), nil
}

func (m *Manager) checkPortLocked(sc config.SessionConfig) error {
	if sc.Port == m.opts.Config.AdminPort {
		return errors.Wrapf(model.ErrPortTaken, "port %d is the admin port", sc.Port)
	}
	for id, other := range m.defs {
		if id != sc.ID && other.Port == sc.Port {
			return errors.Wrapf(model.ErrPortTaken, "port %d is used by session %s", sc.Port, id)
		}
	}
	return nil
}

// Start defines the session if needed and starts it. Used by the single-session mode.
func (m *Manager) Start(ctx context.Context, sc config.SessionConfig) (*service.Controller, error) {
	if _, err := m.Define(ctx, sc); err != nil {
		return nil, err
	}
	if _, err := m.StartSession(ctx, sc.ID); err != nil {
		return nil, err
	}
	ctrl, _ := m.Get(sc.ID)
	return ctrl, nil
}

// StartSession brings up the controller, broadcaster and control server of a
// defined session. An initialization failure is not returned: the session stays
// registered in the error state so it can be inspected and restarted.
func (m *Manager) StartSession(ctx context.Context, id string) (model.SessionView, error) {
	m.mu.Lock()
	sc, ok := m.defs[id]
	if !ok {
		m.mu.Unlock()
		return model.SessionView{}, model.ErrSessionNotFound
	}
	if _, running := m.units[id]; running {
		m.mu.Unlock()
		return model.SessionView{}, model.ErrSessionRunning
	}

	u, err := m.newUnit(sc)
	if err != nil {
		m.mu.Unlock()
		return model.SessionView{}, err
	}
	m.units[id] = u
	m.mu.Unlock()

	if err := u.ctrl.Start(ctx); err != nil && !errors.Is(err, service.ErrStopped) {
		m.log.Error().Err(err).Str("session_id", id).Msg("session failed to start")
	}
	snap := u.ctrl.Status()
	return model.NewSessionView(recordOf(sc), &snap), nil
}

func (m *Manager) newUnit(sc config.SessionConfig) (*unit, error) {
	log := m.opts.Log.With().Str("session_id", sc.ID).Logger()

	hub := ws.NewHub(sc.ID, log)
	go hub.Run()

	webhook := service.NewWebhookRelay(sc.WebhookURL, sc.WebhookSecret, m.opts.Config.WebhookTimeout, log)
	publishers := []ws.RealtimePublisher{hub}
	relays := []service.EventRelay{webhook}
	if m.opts.Stream != nil {
		publishers = append(publishers, m.opts.Stream)
		relays = append(relays, m.opts.Stream.ForSession(sc.ID))
	}

	var store service.StatusStore
	if m.opts.Store != nil {
		store = m.opts.Store
	}

	ctrl := service.NewController(service.ControllerOptions{
		Session:    sc,
		NewClient:  m.opts.NewClient,
		Publishers: publishers,
		Relays:     relays,
		Media:      m.opts.Media,
		Store:      store,
		Log:        m.opts.Log,
	})

	srv := server.NewSessionServer(sc.Port, ctrl, hub, m.opts.Security, log)
	if err := srv.Start(); err != nil {
		hub.Close()
		return nil, errors.Wrapf(model.ErrPortTaken, "%v", err)
	}

	ctrl.OnStop(srv.Shutdown)
	ctrl.OnStop(func(context.Context) error {
		hub.Close()
		return nil
	})

	return &unit{cfg: sc, ctrl: ctrl, hub: hub, server: srv, webhook: webhook}, nil
}

// Get returns the controller of a running session.
func (m *Manager) Get(id string) (*service.Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return nil, false
	}
	return u.ctrl, true
}

// List returns the snapshots of every running session, ordered by id.
func (m *Manager) List() []model.Snapshot {
	m.mu.RLock()
	out := make([]model.Snapshot, 0, len(m.units))
	for _, u := range m.units {
		out = append(out, u.ctrl.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// StopSession stops a running session, bounded by the configured stop timeout.
func (m *Manager) StopSession(ctx context.Context, id string) error {
	m.mu.Lock()
	u, ok := m.units[id]
	if !ok {
		_, defined := m.defs[id]
		m.mu.Unlock()
		if !defined {
			return model.ErrSessionNotFound
		}
		return model.ErrSessionNotRunning
	}
	delete(m.units, id)
	m.mu.Unlock()

	m.stopUnit(ctx, u)
	return nil
}

func (m *Manager) stopUnit(ctx context.Context, u *unit) {
	if m.opts.Config.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.Config.StopTimeout)
		defer cancel()
	}
	_ = u.ctrl.Stop(ctx)
}

// StopAll stops every running session concurrently.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	units := make([]*unit, 0, len(m.units))
	for id, u := range m.units {
		units = append(units, u)
		delete(m.units, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()
			m.stopUnit(ctx, u)
		}(u)
	}
	wg.Wait()

	// give in-flight webhook deliveries their bounded timeout to finish
	for _, u := range units {
		u.webhook.Close()
	}
	m.log.Info().Int("sessions", len(units)).Msg("all sessions stopped")
}

// Delete forgets a stopped session. Its storage directory is left in place so
// re-creating the session restores the pairing.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.units[id]; running {
		return model.ErrSessionRunning
	}
	if _, ok := m.defs[id]; !ok {
		return model.ErrSessionNotFound
	}
	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, id); err != nil && !errors.Is(err, model.ErrSessionNotFound) {
			return err
		}
	}
	delete(m.defs, id)
	m.log.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

// Sessions lists every defined session with its live state, ordered by id.
func (m *Manager) Sessions(ctx context.Context) ([]model.SessionView, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.defs))
	for id := range m.defs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	out := make([]model.SessionView, 0, len(ids))
	for _, id := range ids {
		view, err := m.Session(ctx, id)
		if errors.Is(err, model.ErrSessionNotFound) {
			continue // deleted meanwhile
		}
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func (m *Manager) Session(ctx context.Context, id string) (model.SessionView, error) {
	m.mu.RLock()
	sc, ok := m.defs[id]
	u, running := m.units[id]
	m.mu.RUnlock()
	if !ok {
		return model.SessionView{}, model.ErrSessionNotFound
	}

	rec := recordOf(sc)
	if m.opts.Store != nil && !running {
		if stored, err := m.opts.Store.Get(ctx, id); err == nil {
			rec.Status = stored.Status
		}
	}
	if !running {
		return model.NewSessionView(rec, nil), nil
	}
	snap := u.ctrl.Status()
	return model.NewSessionView(rec, &snap), nil
}

func recordOf(sc config.SessionConfig) model.SessionRecord {
	return model.SessionRecord{
		SessionID:  sc.ID,
		Name:       sc.Name,
		Port:       sc.Port,
		WebhookURL: sc.WebhookURL,
		Status:     model.StatusDisconnected,
	}
}

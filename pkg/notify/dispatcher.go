package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/paddockhq/paddock/pkg/auth"
	"github.com/paddockhq/paddock/pkg/config"
	"github.com/paddockhq/paddock/pkg/log"
	"github.com/paddockhq/paddock/pkg/metrics"
	"github.com/paddockhq/paddock/pkg/storage"
	"github.com/paddockhq/paddock/pkg/types"
)

// Dispatcher fans reconciliation outcomes out to subscribed users. It
// scans unsent notify log entries each tick, matches them against alert
// profiles, and delivers to every configured channel independently.
type Dispatcher struct {
	store     storage.Store
	evaluator *auth.Evaluator

	email  Channel
	slack  Channel
	zapier Channel

	dedup       *gocache.Cache
	batchSize   int
	sendTimeout time.Duration
}

// NewDispatcher creates a dispatcher from the notify configuration.
func NewDispatcher(store storage.Store, evaluator *auth.Evaluator, cfg config.NotifyConfig) *Dispatcher {
	window := cfg.DedupWindow.Std()
	if window <= 0 {
		window = 2 * time.Minute
	}
	sendTimeout := cfg.SendTimeout.Std()
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 10
	}
	return &Dispatcher{
		store:     store,
		evaluator: evaluator,
		email: &EmailChannel{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Timeout:  sendTimeout,
		},
		slack:       NewWebhookChannel("slack", sendTimeout),
		zapier:      NewWebhookChannel("zapier", sendTimeout),
		dedup:       gocache.New(window, 2*window),
		batchSize:   batch,
		sendTimeout: sendTimeout,
	}
}

// AddEntry records a notify log entry for later dispatch. A second call
// with the same (parent, type, message) tuple inside the dedup window
// increments the existing entry's counter instead of creating a burst of
// duplicates.
func (d *Dispatcher) AddEntry(parentID, notifyType, reference, message string) error {
	key := parentID + "|" + notifyType + "|" + message
	if cached, found := d.dedup.Get(key); found {
		if existing, err := d.store.GetNotifyLog(cached.(string)); err == nil {
			existing.NotificationCount++
			if err := d.store.UpdateLog(existing); err != nil {
				return fmt.Errorf("bump notification count: %w", err)
			}
			return nil
		}
		// Entry evicted under us; fall through and create a fresh one.
	}

	entry := &types.LogEntry{
		ID:                uuid.New().String(),
		ParentID:          parentID,
		Kind:              types.LogKindNotify,
		Message:           message,
		NotifyType:        notifyType,
		NotifyReference:   reference,
		NotificationCount: 1,
		CreatedAt:         time.Now(),
	}
	if err := d.store.AppendLog(entry); err != nil {
		return fmt.Errorf("append notify log: %w", err)
	}
	d.dedup.Set(key, entry.ID, gocache.DefaultExpiration)
	return nil
}

// parentDesc carries the descriptive attributes of an entry's parent
// used for matching and token substitution.
type parentDesc struct {
	entityID       string
	isServer       bool
	parentServerID string
	name           string
	ip             string
	provider       string
	domain         string
	viewPermission string
}

// ScanAndDispatch processes one batch of unsent notify entries. Each
// entry is marked sent exactly once after every subscriber has been
// processed; individual delivery failures are recorded, never retried
// here.
func (d *Dispatcher) ScanAndDispatch(ctx context.Context) error {
	profiles, err := d.store.ListAlertProfiles()
	if err != nil {
		return fmt.Errorf("list alert profiles: %w", err)
	}

	entries, err := d.store.ListUnsentNotifications(d.batchSize)
	if err != nil {
		return fmt.Errorf("list unsent notifications: %w", err)
	}

	logger := log.WithComponent("notify")
	for _, entry := range entries {
		desc, ok := d.resolveParent(entry.ParentID)
		if !ok {
			logger.Warn().Str("parent_id", entry.ParentID).Msg("notify entry has no resolvable parent")
		} else {
			for _, profile := range profiles {
				if !profileMatches(profile, entry, desc) {
					continue
				}
				if !d.evaluator.CanUserManage(ctx, profile.UserID, desc.viewPermission, desc.entityID) {
					continue
				}
				d.dispatchToProfile(ctx, profile, entry, desc)
			}
		}

		entry.Sent = true
		if err := d.store.UpdateLog(entry); err != nil {
			logger.Error().Err(err).Str("entry_id", entry.ID).Msg("failed to mark notification sent")
		}
	}
	return nil
}

func (d *Dispatcher) resolveParent(parentID string) (parentDesc, bool) {
	if server, err := d.store.GetServer(parentID); err == nil {
		return parentDesc{
			entityID:       server.ID,
			isServer:       true,
			name:           server.Name,
			ip:             server.IPv4,
			provider:       server.Provider,
			viewPermission: "view_server",
		}, true
	}
	if app, err := d.store.GetApp(parentID); err == nil {
		desc := parentDesc{
			entityID:       app.ID,
			parentServerID: app.ParentServerID,
			name:           app.Name,
			domain:         app.Domain,
			viewPermission: "view_app",
		}
		if server, err := d.store.GetServer(app.ParentServerID); err == nil {
			desc.ip = server.IPv4
			desc.provider = server.Provider
		}
		return desc, true
	}
	return parentDesc{}, false
}

// profileMatches requires both the server-or-app membership and the
// type+reference selectors to intersect the entry. Empty selectors match
// everything the user can access.
func profileMatches(profile *types.AlertProfile, entry *types.LogEntry, desc parentDesc) bool {
	var member bool
	if desc.isServer {
		member = selectorMatch(profile.ServerIDs, desc.entityID)
	} else {
		member = selectorMatch(profile.AppIDs, desc.entityID) ||
			(len(profile.ServerIDs) > 0 && contains(profile.ServerIDs, desc.parentServerID))
	}
	if !member {
		return false
	}
	return selectorMatch(profile.NotifyTypes, entry.NotifyType) &&
		selectorMatch(profile.NotifyReferences, entry.NotifyReference)
}

// selectorMatch treats an empty selector as "all".
func selectorMatch(selector []string, value string) bool {
	if len(selector) == 0 {
		return true
	}
	return contains(selector, value)
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func (d *Dispatcher) dispatchToProfile(ctx context.Context, profile *types.AlertProfile, entry *types.LogEntry, desc parentDesc) {
	payload := renderPayload(entry, desc)

	for _, dest := range profile.Emails {
		d.sendOne(ctx, d.email, dest, entry, payload)
	}
	for _, dest := range profile.SlackWebhooks {
		d.sendOne(ctx, d.slack, dest, entry, payload)
	}
	for _, dest := range profile.ZapierWebhooks {
		d.sendOne(ctx, d.zapier, dest, entry, payload)
	}
}

// sendOne performs a single channel delivery and records a notify-sent
// outcome row. Failures are recorded, not propagated: no channel may
// block another.
func (d *Dispatcher) sendOne(ctx context.Context, channel Channel, destination string, entry *types.LogEntry, payload Payload) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	ok, raw := channel.Send(sendCtx, destination, payload)

	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	metrics.NotificationsDispatched.WithLabelValues(channel.Name(), outcome).Inc()

	record := &types.LogEntry{
		ID:       uuid.New().String(),
		ParentID: entry.ParentID,
		Kind:     types.LogKindNotifySent,
		Message:  fmt.Sprintf("%s to %s: %s", channel.Name(), destination, outcome),
		Fields: map[string]string{
			"channel":     channel.Name(),
			"destination": destination,
			"outcome":     outcome,
			"response":    raw,
			"notify_id":   entry.ID,
		},
		CreatedAt: time.Now(),
	}
	if err := d.store.AppendLog(record); err != nil {
		log.WithComponent("notify").Error().Err(err).Msg("failed to record delivery outcome")
	}
}

const bodyTemplate = "Server: ##SERVER## (##IP##)\nDomain: ##DOMAIN##\nType: ##TYPE##\nReference: ##REFERENCE##\n\n##MESSAGE##"

func renderPayload(entry *types.LogEntry, desc parentDesc) Payload {
	replacer := strings.NewReplacer(
		"##SERVER##", desc.name,
		"##IP##", desc.ip,
		"##DOMAIN##", desc.domain,
		"##TYPE##", entry.NotifyType,
		"##REFERENCE##", entry.NotifyReference,
		"##MESSAGE##", entry.Message,
	)
	return Payload{
		Subject: fmt.Sprintf("[paddock] %s: %s", entry.NotifyType, desc.name),
		Message: replacer.Replace(bodyTemplate),
		Fields: map[string]string{
			"server":    desc.name,
			"type":      entry.NotifyType,
			"reference": entry.NotifyReference,
		},
	}
}

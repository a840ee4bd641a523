package app

import (
	"context"

	"outreach/internal/campaign"
	"outreach/internal/config"
	"outreach/internal/phone"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

// Report is what Inspect prints.
type Report struct {
	Status   campaign.Status       `json:"status"`
	Snapshot *campaign.Snapshot    `json:"snapshot,omitempty"`
	Contact  *campaign.ContactView `json:"contact,omitempty"`
	Audit    []storage.AuditEntry  `json:"audit,omitempty"`
}

// Inspect loads the persisted campaign state without starting any
// transport. With contact set, only that contact is reported.
func Inspect(ctx context.Context, cfgPath, contact string, auditLimit int) (*Report, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	settings, err := mapCampaignSettings(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	eng := campaign.New(settings, storage.NewCollections(store, logx.Nop()), nil)
	if err := eng.Load(ctx); err != nil {
		return nil, err
	}

	rep := &Report{Status: eng.Status()}
	if contact != "" {
		id, err := phone.Normalize(contact, regionOf(cfg))
		if err != nil {
			return nil, err
		}
		v, err := eng.Contact(campaign.ContactID(id))
		if err != nil {
			return nil, err
		}
		rep.Contact = &v
	} else {
		snap := eng.Snapshot()
		rep.Snapshot = &snap
	}
	if auditLimit > 0 {
		if rep.Audit, err = store.RecentAudit(ctx, auditLimit); err != nil {
			return nil, err
		}
	}
	return rep, nil
}

// CheckConfig parses the file and runs every component mapper on it, the
// same checks a hot reload goes through.
func CheckConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	if err := (&App{}).validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

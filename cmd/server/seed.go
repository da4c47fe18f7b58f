package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/repository/memory"
)

// seedFile is the fixture format for --store=memory.
type seedFile struct {
	Channels []struct {
		ID        int64  `yaml:"id"`
		CompanyID int64  `yaml:"company_id"`
		Type      string `yaml:"channel_type"`
		Status    string `yaml:"status"`
	} `yaml:"channels"`
	Contacts []struct {
		ID        int64    `yaml:"id"`
		CompanyID int64    `yaml:"company_id"`
		Name      string   `yaml:"name"`
		Phone     string   `yaml:"phone"`
		Email     string   `yaml:"email"`
		Tags      []string `yaml:"tags"`
		Inactive  bool     `yaml:"inactive"`
		StageID   int64    `yaml:"stage_id"`
	} `yaml:"contacts"`
	Segments []struct {
		ID        int64    `yaml:"id"`
		CompanyID int64    `yaml:"company_id"`
		Name      string   `yaml:"name"`
		Tags      []string `yaml:"tags"`
		StageIDs  []int64  `yaml:"pipeline_stage_ids"`
	} `yaml:"segments"`
	Plans []struct {
		CompanyID     int64 `yaml:"company_id"`
		MaxCampaigns  int   `yaml:"max_campaigns"`
		MaxRecipients int   `yaml:"max_campaign_recipients"`
	} `yaml:"plans"`
}

func loadSeed(path string, store *memory.Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}

	now := time.Now().UTC()
	for _, ch := range sf.Channels {
		store.PutChannel(domain.ChannelConnection{
			ID: ch.ID, CompanyID: ch.CompanyID, Type: ch.Type, Status: domain.ChannelStatus(ch.Status),
		})
	}
	for _, c := range sf.Contacts {
		id := store.PutContact(domain.Contact{
			ID: c.ID, CompanyID: c.CompanyID, Name: c.Name, Phone: c.Phone, Email: c.Email,
			Tags: c.Tags, IsActive: !c.Inactive, CreatedAt: now,
		})
		if c.StageID > 0 {
			store.PutDeal(domain.Deal{CompanyID: c.CompanyID, ContactID: id, StageID: c.StageID})
		}
	}
	for _, s := range sf.Segments {
		store.PutSegment(domain.ContactSegment{
			ID: s.ID, CompanyID: s.CompanyID, Name: s.Name,
			Criteria:  domain.SegmentCriteria{Tags: s.Tags, PipelineStageIDs: s.StageIDs},
			CreatedAt: now, UpdatedAt: now,
		})
	}
	for _, p := range sf.Plans {
		store.PutPlan(p.CompanyID, domain.PlanLimits{MaxCampaigns: p.MaxCampaigns, MaxCampaignRecipients: p.MaxRecipients})
	}
	return nil
}

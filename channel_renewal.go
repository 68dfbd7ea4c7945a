package main

import (
	"context"
	"log"
	"time"

	"craftsync/watch"
)

// ChannelRenewer re-registers Google push channels before they lapse.
// Channels expire on Google's side after at most a week, so without
// renewal a calendar silently stops receiving notifications.
type ChannelRenewer struct {
	registrar *watch.Registrar
	interval  time.Duration
	threshold time.Duration
	enabled   bool
}

func NewChannelRenewer(registrar *watch.Registrar, interval, threshold time.Duration, enabled bool) *ChannelRenewer {
	return &ChannelRenewer{
		registrar: registrar,
		interval:  interval,
		threshold: threshold,
		enabled:   enabled,
	}
}

func (r *ChannelRenewer) Start(ctx context.Context) {
	if !r.enabled {
		log.Println("Channel renewal disabled")
		return
	}
	if r.registrar == nil {
		log.Println("Channel renewal disabled: missing registrar")
		return
	}
	if r.interval <= 0 {
		r.interval = time.Hour
	}
	if r.threshold <= 0 {
		r.threshold = 12 * time.Hour
	}
	go r.loop(ctx)
}

func (r *ChannelRenewer) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		renewed, err := r.registrar.RenewExpiring(ctx, r.threshold)
		if err != nil {
			log.Printf("Channel renewal scan error: %v", err)
		} else if renewed > 0 {
			log.Printf("Channel renewal: renewed %d channels", renewed)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

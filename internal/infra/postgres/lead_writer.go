package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"xquiz-funnel-service/internal/domain"
)

// LeadWriter upserts lead rows keyed by lead id. The shadow capture inserts
// the partial row; the completed write replaces its payload in place.
type LeadWriter struct {
	pool *pgxpool.Pool
}

func NewLeadWriter(pool *pgxpool.Pool) *LeadWriter {
	return &LeadWriter{pool: pool}
}

func (w *LeadWriter) SaveLead(ctx context.Context, lead domain.Lead) error {
	data, err := json.Marshal(struct {
		Answers        map[string]domain.Answer `json:"answers"`
		Score          float64                  `json:"score"`
		Tags           []string                 `json:"tags"`
		Profile        string                   `json:"profile"`
		DropOffElement string                   `json:"dropOffElement,omitempty"`
	}{lead.Answers, lead.Score, lead.Tags, lead.Profile, lead.DropOffElement})
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}

	_, err = w.pool.Exec(ctx, `
		INSERT INTO leads (id, quiz_id, name, email, whatsapp, data, completed,
			utm_source, utm_medium, utm_campaign, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			whatsapp = EXCLUDED.whatsapp,
			data = EXCLUDED.data,
			completed = EXCLUDED.completed`,
		lead.ID, lead.QuizID,
		lead.Contact.Name, lead.Contact.Email, lead.Contact.WhatsApp,
		data, lead.Completed,
		lead.UTM.Source, lead.UTM.Medium, lead.UTM.Campaign,
		lead.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return nil
}

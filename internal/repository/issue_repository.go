package repository

import (
	"context"
	"fmt"

	"boxtrack/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// IssueRepository stores the append-only issue audit trail.
type IssueRepository interface {
	Create(ctx context.Context, issue *domain.Issue) error
	ListByItem(ctx context.Context, itemID string) ([]*domain.Issue, error)
}

type issueRepository struct {
	db *kivik.DB
}

type issueDoc struct {
	ID      string `json:"_id"`
	DocType string `json:"doc_type"`
	domain.Issue
}

func NewIssueRepository(client *kivik.Client, dbName string) IssueRepository {
	return &issueRepository{
		db: client.DB(dbName),
	}
}

func (r *issueRepository) Create(ctx context.Context, issue *domain.Issue) error {
	doc := issueDoc{
		ID:      fmt.Sprintf("issue:%s", issue.ID),
		DocType: "issue",
		Issue:   *issue,
	}

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

func (r *issueRepository) ListByItem(ctx context.Context, itemID string) ([]*domain.Issue, error) {
	selector := map[string]interface{}{
		"doc_type": "issue",
		"item_id":  itemID,
	}

	var issues []*domain.Issue
	err := findAll(ctx, r.db, selector, ascending("doc_type", "item_id", "issued_at"), func(rows *kivik.ResultSet) error {
		var doc issueDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return fmt.Errorf("failed to scan issue: %w", err)
		}
		issue := doc.Issue
		issues = append(issues, &issue)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}

	return issues, nil
}

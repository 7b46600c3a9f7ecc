package archive

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"mediarchive/internal/hash"
)

// IssueKind classifies a problem found during verification.
type IssueKind string

const (
	// IssueCorrupt means the stored bytes no longer hash to the object's name.
	IssueCorrupt IssueKind = "corrupt"
	// IssueUnreadable means the stored object could not be read.
	IssueUnreadable IssueKind = "unreadable"
)

// Issue describes one object that failed verification.
type Issue struct {
	Hash   hash.Hash `json:"hash"`
	Kind   IssueKind `json:"kind"`
	Detail string    `json:"detail"`
}

// VerifyResult summarizes a full-store verification pass.
type VerifyResult struct {
	Checked int     `json:"checked"`
	Issues  []Issue `json:"issues"`
}

// VerifyAll re-hashes every stored object and reports the ones whose
// contents no longer match their name. Objects are checked concurrently
// with at most workers goroutines (minimum 1).
func (a *Archive) VerifyAll(ctx context.Context, workers int) (*VerifyResult, error) {
	if workers < 1 {
		workers = 1
	}

	hashes, err := a.List()
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		issues []Issue
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, h := range hashes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			actual, err := hash.SumFile(a.StoredFilePath(h))
			if err != nil {
				mu.Lock()
				issues = append(issues, Issue{Hash: h, Kind: IssueUnreadable, Detail: err.Error()})
				mu.Unlock()
				return nil
			}
			if actual != h {
				mu.Lock()
				issues = append(issues, Issue{
					Hash:   h,
					Kind:   IssueCorrupt,
					Detail: fmt.Sprintf("content hashes to %s", actual),
				})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &VerifyResult{Checked: len(hashes), Issues: issues}, nil
}

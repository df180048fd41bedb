package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/bidvault/bidvault/internal/domain"
)

// multipartThreshold is the payload size above which the archiver switches
// from a single PutObject to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// BidLedgerStore provides read access to an auction's bid ledger for archival
// purposes. The archiver only requires the one query method it actually
// calls, not the full domain.BidStore interface.
type BidLedgerStore interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// Archiver exports ended auctions to object storage. Each archive is a JSONL
// file: the first line is the final auction record, followed by one line per
// bid in descending price order.
//
// Archival is idempotent: an auction whose archive object already exists is
// skipped. Deletion of archived rows from the primary store is intentionally
// NOT performed here.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	bids   BidLedgerStore
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, bids BidLedgerStore) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		bids:   bids,
	}
}

// ArchiveAuction uploads the ended auction and its full bid ledger to
// archive/auctions/YYYY-MM/<id>.jsonl, partitioned by the month the auction
// ended. It returns the number of bids archived, or (0, nil) when the archive
// already exists.
func (a *Archiver) ArchiveAuction(ctx context.Context, auction domain.Auction) (int64, error) {
	if auction.Status == domain.AuctionStatusActive {
		return 0, fmt.Errorf("s3blob: archive auction %s: auction is still active", auction.ID)
	}

	path := archivePath(auction)

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %s: %w", auction.ID, err)
	}
	if exists {
		return 0, nil
	}

	bids, err := a.bids.ListByAuction(ctx, auction.ID, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %s: ledger query: %w", auction.ID, err)
	}

	buf, err := marshalArchive(auction, bids)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %s: marshal: %w", auction.ID, err)
	}

	if int64(len(buf)) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive auction %s: upload: %w", auction.ID, err)
	}

	return int64(len(bids)), nil
}

// archivePath builds the S3 key for an auction archive, partitioned by the
// year-month of the end time.
//
//	archive/auctions/2026-08/3f2a....jsonl
func archivePath(auction domain.Auction) string {
	return fmt.Sprintf("archive/auctions/%s/%s.jsonl", auction.EndTime.Format("2006-01"), auction.ID)
}

// marshalArchive serialises the auction followed by its bids as
// newline-delimited JSON. Each element is one compact JSON line.
func marshalArchive(auction domain.Auction, bids []domain.Bid) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(auction); err != nil {
		return nil, fmt.Errorf("jsonl encode auction: %w", err)
	}
	for i, bid := range bids {
		if err := enc.Encode(bid); err != nil {
			return nil, fmt.Errorf("jsonl encode bid %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

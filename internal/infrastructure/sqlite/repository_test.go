package sqlite

import (
	"context"
	"testing"
	"time"

	"chainlens/internal/domain"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(":memory:")
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func addr(s string) *string { return &s }

func testTx(hash string, blockNumber uint64, txIndex uint64, ts time.Time) domain.Transaction {
	return domain.Transaction{
		Hash:        hash,
		From:        "0xaaaa",
		To:          addr("0xbbbb"),
		ValueWei:    "1000000000000000000",
		ValueEth:    "1",
		Status:      domain.StatusSuccess,
		BlockNumber: blockNumber,
		BlockHash:   "0xblock",
		TxIndex:     txIndex,
		Gas:         21000,
		GasPrice:    "30000000000",
		Input:       "0x",
		Nonce:       1,
		TxType:      2,
		ChainID:     1,
		Timestamp:   ts,
	}
}

func TestUpsertTransactionsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	batch := []domain.Transaction{
		testTx("0xAA01", 100, 0, ts),
		testTx("0xaa02", 100, 1, ts),
	}
	if err := repo.UpsertTransactions(ctx, batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// The same block replayed must not produce duplicates.
	if err := repo.UpsertTransactions(ctx, batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	transactions, err := repo.LatestTransactions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(transactions) != 2 {
		t.Fatalf("expected 2 rows after replay, got %d", len(transactions))
	}
	if transactions[0].Hash != "0xaa02" {
		t.Fatalf("expected lowercase hash ordering, got %q", transactions[0].Hash)
	}
}

func TestUpsertOverwritesExistingRow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	original := testTx("0xaa01", 100, 0, ts)
	if err := repo.UpsertTransactions(ctx, []domain.Transaction{original}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	updated := original
	updated.ValueWei = "2000000000000000000"
	updated.ValueEth = "2"
	updated.BlockNumber = 101
	if err := repo.UpsertTransactions(ctx, []domain.Transaction{updated}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	record, found, err := repo.TransactionByHash(ctx, "0xAA01")
	if err != nil {
		t.Fatalf("by hash: %v", err)
	}
	if !found {
		t.Fatal("expected transaction to exist")
	}
	if record.ValueEth != "2" || record.BlockNumber != 101 {
		t.Fatalf("expected overwritten row, got value=%q block=%d", record.ValueEth, record.BlockNumber)
	}
}

func TestLatestTransactionsOrdering(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	batch := []domain.Transaction{
		testTx("0xold", 99, 0, base.Add(-time.Minute)),
		testTx("0xnew1", 100, 1, base),
		testTx("0xnew0", 100, 0, base),
	}
	if err := repo.UpsertTransactions(ctx, batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	transactions, err := repo.LatestTransactions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	want := []string{"0xnew1", "0xnew0", "0xold"}
	if len(transactions) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(transactions))
	}
	for i, hash := range want {
		if transactions[i].Hash != hash {
			t.Fatalf("position %d: expected %q, got %q", i, hash, transactions[i].Hash)
		}
	}
}

func TestLatestTransactionsPagination(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	var batch []domain.Transaction
	for i := 0; i < 5; i++ {
		batch = append(batch, testTx("0xtx"+string(rune('a'+i)), 100, uint64(i), base))
	}
	if err := repo.UpsertTransactions(ctx, batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	page, err := repo.LatestTransactions(ctx, 2, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].Hash != "0xtxc" || page[1].Hash != "0xtxb" {
		t.Fatalf("unexpected page contents: %q, %q", page[0].Hash, page[1].Hash)
	}
}

func TestFilterTransactions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	transfer := testTx("0xtransfer", 100, 0, ts)
	call := testTx("0xcall", 100, 1, ts)
	call.ValueWei = "0"
	call.ValueEth = "0"
	failed := testTx("0xfailed", 100, 2, ts)
	failed.Status = domain.StatusFailed

	if err := repo.UpsertTransactions(ctx, []domain.Transaction{transfer, call, failed}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	cases := []struct {
		category domain.Category
		want     []string
	}{
		{domain.CategoryTokenTransfer, []string{"0xfailed", "0xtransfer"}},
		{domain.CategoryContractCall, []string{"0xcall"}},
		{domain.CategoryFailed, []string{"0xfailed"}},
	}
	for _, tc := range cases {
		rows, err := repo.FilterTransactions(ctx, tc.category, 10, 0)
		if err != nil {
			t.Fatalf("filter %s: %v", tc.category, err)
		}
		if len(rows) != len(tc.want) {
			t.Fatalf("filter %s: expected %d rows, got %d", tc.category, len(tc.want), len(rows))
		}
		for i, hash := range tc.want {
			if rows[i].Hash != hash {
				t.Fatalf("filter %s position %d: expected %q, got %q", tc.category, i, hash, rows[i].Hash)
			}
		}
	}

	if _, err := repo.FilterTransactions(ctx, domain.Category("bogus"), 10, 0); err == nil {
		t.Fatal("expected error for unknown category")
	}
}

func TestSearchTransactions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first := testTx("0xdeadbeef", 100, 0, ts)
	first.From = "0x1111"
	second := testTx("0xcafe", 100, 1, ts)
	second.From = "0x2222"
	second.To = addr("0x3333")
	if err := repo.UpsertTransactions(ctx, []domain.Transaction{first, second}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	byHash, err := repo.SearchTransactions(ctx, "DEADBEEF", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byHash) != 1 || byHash[0].Hash != "0xdeadbeef" {
		t.Fatalf("expected hash match, got %+v", byHash)
	}

	byTo, err := repo.SearchTransactions(ctx, "0x3333", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(byTo) != 1 || byTo[0].Hash != "0xcafe" {
		t.Fatalf("expected to_addr match, got %+v", byTo)
	}
}

func TestContractCreationRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	creation := testTx("0xcreate", 100, 0, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	creation.To = nil
	if err := repo.UpsertTransactions(ctx, []domain.Transaction{creation}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	record, found, err := repo.TransactionByHash(ctx, "0xcreate")
	if err != nil || !found {
		t.Fatalf("by hash: found=%v err=%v", found, err)
	}
	if record.To != nil {
		t.Fatalf("expected nil recipient for contract creation, got %q", *record.To)
	}
}

func TestThroughputStatsWindowBoundary(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	inside := testTx("0xinside", 100, 0, now.Add(-30*time.Second))
	boundary := testTx("0xboundary", 99, 0, now.Add(-time.Minute))
	boundary.From = "0xcccc"
	outside := testTx("0xoutside", 98, 0, now.Add(-time.Minute-time.Second))

	if err := repo.UpsertTransactions(ctx, []domain.Transaction{inside, boundary, outside}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	stats, err := repo.ThroughputStats(ctx)
	if err != nil {
		t.Fatalf("throughput: %v", err)
	}
	// The row exactly one minute old sits on the inclusive boundary.
	if stats.TxCount != 2 {
		t.Fatalf("expected 2 transactions in window, got %d", stats.TxCount)
	}
	if stats.BlocksPerMinute != 2 {
		t.Fatalf("expected 2 blocks in window, got %d", stats.BlocksPerMinute)
	}
	// 0xaaaa, 0xcccc and shared recipient 0xbbbb.
	if stats.ActiveAddresses != 3 {
		t.Fatalf("expected 3 active addresses, got %d", stats.ActiveAddresses)
	}
	if want := 2.0 / 60.0; stats.TPS != want {
		t.Fatalf("expected TPS %v, got %v", want, stats.TPS)
	}
}

func TestLeaderboards(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	recent := now.Add(-time.Hour)
	stale := now.Add(-8 * 24 * time.Hour)

	a1 := testTx("0xa1", 100, 0, recent)
	a1.From = "0xaaaa"
	a1.ValueWei = "100"
	a2 := testTx("0xa2", 100, 1, recent)
	a2.From = "0xaaaa"
	a2.ValueWei = "100"
	b1 := testTx("0xb1", 100, 2, recent)
	b1.From = "0xbbbb"
	b1.To = addr("0xdddd")
	b1.ValueWei = "900"
	old := testTx("0xold", 50, 0, stale)
	old.From = "0xeeee"
	old.ValueWei = "999999"

	if err := repo.UpsertTransactions(ctx, []domain.Transaction{a1, a2, b1, old}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	senders, err := repo.TopSenders(ctx, 10, 7)
	if err != nil {
		t.Fatalf("top senders: %v", err)
	}
	if len(senders) != 2 {
		t.Fatalf("expected 2 senders inside window, got %d", len(senders))
	}
	if senders[0].Address != "0xaaaa" || senders[0].TxCount != 2 {
		t.Fatalf("unexpected top sender: %+v", senders[0])
	}
	if senders[0].TotalValueWei != "200" {
		t.Fatalf("expected sender volume 200, got %q", senders[0].TotalValueWei)
	}

	volume, err := repo.TopVolume(ctx, 10, 7)
	if err != nil {
		t.Fatalf("top volume: %v", err)
	}
	if volume[0].Address != "0xbbbb" || volume[0].TotalValueWei != "900" {
		t.Fatalf("unexpected top volume row: %+v", volume[0])
	}

	receivers, err := repo.TopReceivers(ctx, 10, 7)
	if err != nil {
		t.Fatalf("top receivers: %v", err)
	}
	if receivers[0].Address != "0xbbbb" || receivers[0].TxCount != 2 {
		t.Fatalf("unexpected top receiver: %+v", receivers[0])
	}

	// Wider window picks up the stale sender too.
	wide, err := repo.TopSenders(ctx, 10, 30)
	if err != nil {
		t.Fatalf("top senders 30d: %v", err)
	}
	if len(wide) != 3 {
		t.Fatalf("expected 3 senders inside 30 day window, got %d", len(wide))
	}
}

func TestLeaderboardTieBreak(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	first := testTx("0xt1", 100, 0, now.Add(-time.Hour))
	first.From = "0xzzzz"
	second := testTx("0xt2", 100, 1, now.Add(-time.Hour))
	second.From = "0xaaaa"
	if err := repo.UpsertTransactions(ctx, []domain.Transaction{first, second}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	senders, err := repo.TopSenders(ctx, 10, 7)
	if err != nil {
		t.Fatalf("top senders: %v", err)
	}
	if senders[0].Address != "0xaaaa" || senders[1].Address != "0xzzzz" {
		t.Fatalf("expected address ascending tie break, got %+v", senders)
	}
}

func TestAddressSummary(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sent := testTx("0xsent", 100, 0, ts)
	sent.From = "0xabcd"
	sent.To = addr("0x9999")
	sent.ValueWei = "300"
	received := testTx("0xrecv", 100, 1, ts)
	received.From = "0x9999"
	received.To = addr("0xabcd")
	received.ValueWei = "200"
	unrelated := testTx("0xother", 100, 2, ts)
	unrelated.From = "0x1111"
	unrelated.To = addr("0x2222")

	if err := repo.UpsertTransactions(ctx, []domain.Transaction{sent, received, unrelated}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	summary, err := repo.AddressSummary(ctx, "0xABCD")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Address != "0xabcd" {
		t.Fatalf("expected lowercased address, got %q", summary.Address)
	}
	if summary.SentCount != 1 || summary.ReceivedCount != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.TotalValueWei != "500" {
		t.Fatalf("expected total 500, got %q", summary.TotalValueWei)
	}

	history, err := repo.TransactionsForAddress(ctx, "0xabcd", 10, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 rows of history, got %d", len(history))
	}
}

func TestIngestionCursor(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, found, err := repo.LastIngestedBlock(ctx)
	if err != nil {
		t.Fatalf("last ingested: %v", err)
	}
	if found {
		t.Fatal("expected no cursor on a fresh store")
	}

	if err := repo.SetLastIngestedBlock(ctx, 1234); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := repo.SetLastIngestedBlock(ctx, 1235); err != nil {
		t.Fatalf("advance cursor: %v", err)
	}

	block, found, err := repo.LastIngestedBlock(ctx)
	if err != nil || !found {
		t.Fatalf("last ingested: found=%v err=%v", found, err)
	}
	if block != 1235 {
		t.Fatalf("expected cursor 1235, got %d", block)
	}
}

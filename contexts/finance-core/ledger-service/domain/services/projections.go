package services

import (
	"sort"

	"ledgerflow/contexts/finance-core/ledger-service/domain/entities"
)

const amountField = "amountCents"

var transactionStates = []entities.TransactionState{
	entities.TransactionStateDraft,
	entities.TransactionStateSubmitted,
	entities.TransactionStateApproved,
	entities.TransactionStateRejected,
}

// ProjectionSource is the full set of tenant documents a rebuild reads.
type ProjectionSource struct {
	Projects     []entities.Document
	Ledgers      []entities.Document
	Transactions []entities.Document
	Members      []entities.Document
}

// BuildProjectFinancials recomputes the financial summary of one project
// from scratch.
func BuildProjectFinancials(projectID string, src ProjectionSource) map[string]any {
	projectName := ""
	found := false
	for _, project := range src.Projects {
		if project.Key.ID == projectID {
			projectName = project.StringField("name")
			found = true
			break
		}
	}

	type ledgerTotals struct {
		name     string
		count    int64
		approved int64
		pending  int64
	}
	ledgers := map[string]*ledgerTotals{}
	for _, ledger := range src.Ledgers {
		if ledger.StringField("projectId") != projectID {
			continue
		}
		ledgers[ledger.Key.ID] = &ledgerTotals{name: ledger.StringField("name")}
	}

	byState := map[entities.TransactionState]*[2]int64{}
	for _, state := range transactionStates {
		byState[state] = &[2]int64{}
	}
	var transactionCount int64
	for _, txn := range src.Transactions {
		if txn.StringField("projectId") != projectID {
			continue
		}
		transactionCount++
		state := entities.CurrentTransactionState(txn)
		amount, _ := txn.Int64Field(amountField)
		byState[state][0]++
		byState[state][1] += amount

		ledgerID := txn.StringField("ledgerId")
		if ledgerID == "" {
			continue
		}
		totals, ok := ledgers[ledgerID]
		if !ok {
			totals = &ledgerTotals{}
			ledgers[ledgerID] = totals
		}
		totals.count++
		switch state {
		case entities.TransactionStateApproved:
			totals.approved += amount
		case entities.TransactionStateSubmitted:
			totals.pending += amount
		}
	}

	stateSummary := map[string]any{}
	for _, state := range transactionStates {
		stateSummary[string(state)] = map[string]any{
			"count":       byState[state][0],
			"amountCents": byState[state][1],
		}
	}

	ledgerIDs := make([]string, 0, len(ledgers))
	for id := range ledgers {
		ledgerIDs = append(ledgerIDs, id)
	}
	sort.Strings(ledgerIDs)
	ledgerRows := make([]any, 0, len(ledgerIDs))
	for _, id := range ledgerIDs {
		totals := ledgers[id]
		ledgerRows = append(ledgerRows, map[string]any{
			"ledgerId":            id,
			"name":                totals.name,
			"transactionCount":    totals.count,
			"approvedAmountCents": totals.approved,
			"pendingAmountCents":  totals.pending,
		})
	}

	return map[string]any{
		"projectId":           projectID,
		"projectName":         projectName,
		"projectExists":       found,
		"ledgerCount":         int64(len(ledgerIDs)),
		"transactionCount":    transactionCount,
		"byState":             stateSummary,
		"approvedAmountCents": byState[entities.TransactionStateApproved][1],
		"pendingAmountCents":  byState[entities.TransactionStateSubmitted][1],
		"ledgers":             ledgerRows,
	}
}

// BuildApprovalInbox lists every transaction awaiting approval, oldest first.
func BuildApprovalInbox(src ProjectionSource) map[string]any {
	pending := make([]entities.Document, 0)
	for _, txn := range src.Transactions {
		if entities.CurrentTransactionState(txn) == entities.TransactionStateSubmitted {
			pending = append(pending, txn)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		left, right := pending[i].StringField("submittedAt"), pending[j].StringField("submittedAt")
		if left != right {
			return left < right
		}
		return pending[i].Key.ID < pending[j].Key.ID
	})

	items := make([]any, 0, len(pending))
	var total int64
	for _, txn := range pending {
		amount, _ := txn.Int64Field(amountField)
		total += amount
		items = append(items, map[string]any{
			"transactionId": txn.Key.ID,
			"projectId":     txn.StringField("projectId"),
			"ledgerId":      txn.StringField("ledgerId"),
			"amountCents":   amount,
			"submittedBy":   txn.StringField("submittedBy"),
			"submittedAt":   txn.StringField("submittedAt"),
			"version":       txn.Version,
		})
	}
	return map[string]any{
		"count":       int64(len(items)),
		"amountCents": total,
		"items":       items,
	}
}

// BuildMemberWorkload aggregates per-member authored and reviewed transactions.
func BuildMemberWorkload(src ProjectionSource) map[string]any {
	type workload struct {
		memberID  string
		role      string
		authored  map[entities.TransactionState]int64
		approved  int64
		rejected  int64
		submitted int64
	}
	byUser := map[string]*workload{}
	ensure := func(userID string) *workload {
		item, ok := byUser[userID]
		if !ok {
			item = &workload{authored: map[entities.TransactionState]int64{}}
			byUser[userID] = item
		}
		return item
	}
	for _, member := range src.Members {
		userID := member.StringField("userId")
		if userID == "" {
			userID = member.Key.ID
		}
		item := ensure(userID)
		item.memberID = member.Key.ID
		item.role = member.StringField("role")
	}
	for _, txn := range src.Transactions {
		if author := txn.CreatedBy; author != "" {
			ensure(author).authored[entities.CurrentTransactionState(txn)]++
		}
		if submitter := txn.StringField("submittedBy"); submitter != "" &&
			entities.CurrentTransactionState(txn) == entities.TransactionStateSubmitted {
			ensure(submitter).submitted++
		}
		if approver := txn.StringField("approvedBy"); approver != "" {
			ensure(approver).approved++
		}
		if rejecter := txn.StringField("rejectedBy"); rejecter != "" &&
			entities.CurrentTransactionState(txn) == entities.TransactionStateRejected {
			ensure(rejecter).rejected++
		}
	}

	userIDs := make([]string, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)
	rows := make([]any, 0, len(userIDs))
	for _, userID := range userIDs {
		item := byUser[userID]
		authored := map[string]any{}
		for _, state := range transactionStates {
			authored[string(state)] = item.authored[state]
		}
		rows = append(rows, map[string]any{
			"userId":            userID,
			"memberId":          item.memberID,
			"role":              item.role,
			"authored":          authored,
			"awaitingApproval":  item.submitted,
			"approvalsGiven":    item.approved,
			"rejectionsGiven":   item.rejected,
		})
	}
	return map[string]any{
		"memberCount": int64(len(rows)),
		"members":     rows,
	}
}

// BuildReadView dispatches to the builder for view.
func BuildReadView(view entities.ViewName, key string, src ProjectionSource) map[string]any {
	switch view {
	case entities.ViewProjectFinancials:
		return BuildProjectFinancials(key, src)
	case entities.ViewApprovalInbox:
		return BuildApprovalInbox(src)
	case entities.ViewMemberWorkload:
		return BuildMemberWorkload(src)
	default:
		return nil
	}
}

// ViewSources lists which collections a view rebuild needs to scan.
func ViewSources(view entities.ViewName) []entities.EntityType {
	switch view {
	case entities.ViewProjectFinancials:
		return []entities.EntityType{entities.EntityTypeProject, entities.EntityTypeLedger, entities.EntityTypeTransaction}
	case entities.ViewApprovalInbox:
		return []entities.EntityType{entities.EntityTypeTransaction}
	case entities.ViewMemberWorkload:
		return []entities.EntityType{entities.EntityTypeMember, entities.EntityTypeTransaction}
	default:
		return nil
	}
}

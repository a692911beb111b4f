package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jmsrsd/strn-app/internal/domain"
)

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func printList(items []string) {
	if len(items) == 0 {
		fmt.Println("no results")
		return
	}
	for _, item := range items {
		fmt.Println(item)
	}
}

func formatMaybeUint(v *uint) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// formatValue renders a decoded JSON value; byte arrays are summarized.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []any:
		return fmt.Sprintf("<%d bytes>", len(val))
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}

func printPage(page domain.Page) {
	rows := make([][]string, 0, len(page.IDs))
	for i, id := range page.IDs {
		rows = append(rows, []string{strconv.Itoa(page.Skip + i), id})
	}
	printTable([]string{"#", "ID"}, rows)
	fmt.Printf("showing %d of %d\n", len(page.IDs), page.Total)
}

func printRecord(record map[string]any, domainKey, id string) {
	rows := [][2]string{{"domain", domainKey}, {"id", id}}
	keys := make([]string, 0, len(record))
	for key := range record {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		rows = append(rows, [2]string{key, formatValue(record[key])})
	}
	printKV(rows)
}

func printUsers(items []domain.User) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Email,
			item.Role,
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "EMAIL", "ROLE", "CREATED_AT"}, rows)
}

func printAuditRecords(items []domain.AuditRecord) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Action,
			item.TargetType,
			item.TargetKey,
			defaultDash(item.ActorUserEmail),
			formatMaybeUint(item.ActorUserID),
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "ACTION", "TARGET_TYPE", "TARGET", "ACTOR", "ACTOR_ID", "AT"}, rows)
}

func defaultDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

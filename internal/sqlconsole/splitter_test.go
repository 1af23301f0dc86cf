package sqlconsole

import (
	"reflect"
	"testing"
)

func TestSplitStatementsBasic(t *testing.T) {
	got := SplitStatements("SELECT 1; SELECT 2;")
	want := []string{"SELECT 1", "SELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	got := SplitStatements("SELECT 1; SELECT 2")
	if len(got) != 2 || got[1] != "SELECT 2" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitStatementsQuotedSemicolon(t *testing.T) {
	got := SplitStatements(`INSERT INTO t (v) VALUES ('a;b'); SELECT 1`)
	if len(got) != 2 {
		t.Fatalf("semicolon inside string split the statement: %v", got)
	}
	if got[0] != `INSERT INTO t (v) VALUES ('a;b')` {
		t.Fatalf("got %q", got[0])
	}
}

func TestSplitStatementsEscapedQuote(t *testing.T) {
	got := SplitStatements(`SELECT 'it''s; fine'; SELECT 2`)
	if len(got) != 2 {
		t.Fatalf("doubled quote escape mishandled: %v", got)
	}
}

func TestSplitStatementsDoubleQuotedIdent(t *testing.T) {
	got := SplitStatements(`SELECT ";" FROM "odd;name"; SELECT 1`)
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestSplitStatementsDollarQuoted(t *testing.T) {
	script := `CREATE FUNCTION f() RETURNS void AS $$ BEGIN SELECT 1; SELECT 2; END $$ LANGUAGE plpgsql; SELECT 3`
	got := SplitStatements(script)
	if len(got) != 2 {
		t.Fatalf("dollar-quoted body split: %v", got)
	}
	if got[1] != "SELECT 3" {
		t.Fatalf("got %q", got[1])
	}
}

func TestSplitStatementsTaggedDollar(t *testing.T) {
	script := `DO $body$ SELECT 1; $inner$ x; y $inner$; $body$; SELECT 2`
	got := SplitStatements(script)
	if len(got) != 2 {
		t.Fatalf("tagged dollar quoting mishandled: %v", got)
	}
}

func TestSplitStatementsDollarBodyStartsWithDollar(t *testing.T) {
	got := SplitStatements(`SELECT $$$ a;b $$$`)
	if len(got) != 1 {
		t.Fatalf("closer overlapped the opening tag: %v", got)
	}
	if got[0] != `SELECT $$$ a;b $$$` {
		t.Fatalf("got %q", got[0])
	}
}

func TestSplitStatementsEmptyDollarString(t *testing.T) {
	got := SplitStatements(`SELECT $$$$; SELECT 1`)
	want := []string{`SELECT $$$$`, "SELECT 1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSplitStatementsEmpty(t *testing.T) {
	if got := SplitStatements("  ;;  ; "); got != nil {
		t.Fatalf("expected no statements, got %v", got)
	}
}

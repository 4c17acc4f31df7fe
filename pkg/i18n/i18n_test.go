package i18n

import (
	"reflect"
	"testing"
)

func TestGetFollowsLanguage(t *testing.T) {
	defer SetLanguage(LangEN)

	SetLanguage(LangZH)
	if got := Get("ShuttingDown"); got != "正在优雅关闭..." {
		t.Errorf("expected zh message, got %q", got)
	}
	SetLanguage(Language("fr"))
	if got := Get("ShuttingDown"); got != "Shutting down gracefully..." {
		t.Errorf("unknown language should fall back to en, got %q", got)
	}
	if got := Get("NoSuchKey"); got != "NoSuchKey" {
		t.Errorf("expected key echo for unknown key, got %q", got)
	}
}

func TestTablesComplete(t *testing.T) {
	for name, table := range map[string]Messages{"en": messagesEN, "zh": messagesZH} {
		v := reflect.ValueOf(table)
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).String() == "" {
				t.Errorf("%s: %s is empty", name, v.Type().Field(i).Name)
			}
		}
	}
}

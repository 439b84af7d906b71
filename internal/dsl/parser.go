package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	tableRe     = regexp.MustCompile(`^(?:table|entity)\s+(\w+):`)
	fieldRe     = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	directiveRe = regexp.MustCompile(`^@(\w+)\s*(.*)$`)
	selectRe    = regexp.MustCompile(`^(?i:select|enum)\[(.*)\]$`)
	linkRe      = regexp.MustCompile(`^(?i:link|ref)\[([A-Za-z0-9_.]+)\]$`)
	moduleRe    = regexp.MustCompile(`^\s*module\s+([A-Za-z0-9_.-]+)\s*$`)
)

// // parse: options tokenizer — делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены, не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			// разделитель — пробел И ТОЛЬКО если мы не в кавычках и не внутри [...]
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// parseOptions превращает токены в map: флаг без значения → "true", кавычки снимаются.
func parseOptions(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	// срезать комментарий (только вне кавычек, достаточно грубо для DSL)
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	} else if strings.HasPrefix(raw, "#") {
		raw = ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "options:") {
		raw = strings.TrimSpace(raw[len("options:"):])
	}

	opts := map[string]string{}
	for _, tok := range splitOptionTokens(raw) {
		tok = strings.TrimSpace(strings.TrimSuffix(tok, ","))
		if tok == "" {
			continue
		}
		if !strings.Contains(tok, "=") {
			opts[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := unquote(strings.TrimSpace(kv[1]))
		if k != "" {
			opts[k] = v
		}
	}
	return opts
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y", "on":
		return true
	}
	return false
}

// parseField собирает Field из имени, сырого типа и хвоста с опциями.
func parseField(name, rawType, tail string) (Field, error) {
	// склейка оборванных типов со скобками: Select[Open, Closed]
	if strings.Contains(rawType, "[") && !strings.Contains(rawType, "]") {
		if idx := strings.Index(tail, "]"); idx >= 0 {
			rawType = rawType + tail[:idx+1]
			tail = tail[idx+1:]
		}
	}

	opts := parseOptions(tail)
	f := Field{
		Name:    name,
		RawType: rawType,
		Options: map[string]string{},
	}

	switch {
	case selectRe.MatchString(rawType):
		f.Type = TypeSelect
		inside := strings.TrimSpace(selectRe.FindStringSubmatch(rawType)[1])
		if strings.HasPrefix(inside, "enum:") {
			f.ChoicesRef = strings.TrimSpace(strings.TrimPrefix(inside, "enum:"))
			break
		}
		for _, p := range strings.Split(inside, ",") {
			s := strings.Trim(strings.TrimSpace(p), `"'`)
			if s != "" {
				f.Choices = append(f.Choices, s)
			}
		}
	case linkRe.MatchString(rawType):
		f.Type = TypeLink
		f.LinkTarget = strings.TrimSpace(linkRe.FindStringSubmatch(rawType)[1])
	default:
		if strings.Contains(rawType, "[") {
			return f, fmt.Errorf("field %q: malformed type %q", name, rawType)
		}
		// примитивы; неизвестное имя типа даёт Generic, исходное имя остаётся в RawType
		f.Type, _ = ParseFieldType(rawType)
	}

	for k, v := range opts {
		switch k {
		case "required":
			f.Required = isTrue(v)
		case "readonly", "read_only":
			f.ReadOnly = isTrue(v)
		case "hidden":
			f.Hidden = isTrue(v)
		case "gallery":
			f.Gallery = isTrue(v)
		case "label":
			f.Label = v
		case "description":
			f.Description = v
		case "options":
			// options=Open|Closed: альтернативная запись вариантов Select
			if f.Type == TypeSelect && len(f.Choices) == 0 {
				for _, p := range strings.Split(v, "|") {
					if p = strings.TrimSpace(p); p != "" {
						f.Choices = append(f.Choices, p)
					}
				}
			}
		default:
			f.Options[k] = v
		}
	}
	if f.Type == TypeLink && f.LinkTarget == "" {
		return f, fmt.Errorf("field %q: link without target", name)
	}
	return f, nil
}

// applyDirective обрабатывает строки вида "@naming series prefix=CUST-".
func applyDirective(t *Table, name, rest string) error {
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "naming":
		tokens := splitOptionTokens(rest)
		if len(tokens) == 0 {
			return fmt.Errorf("table %s: @naming requires a strategy", t.Name)
		}
		head := tokens[0]
		src := ""
		// допускаем сокращение "field:customer_name"
		if i := strings.IndexByte(head, ':'); i > 0 {
			head, src = head[:i], head[i+1:]
		}
		st, ok := ParseNamingStrategy(head)
		if !ok {
			return fmt.Errorf("table %s: unknown naming strategy %q", t.Name, tokens[0])
		}
		opts := parseOptions(strings.Join(tokens[1:], " "))
		t.Naming = NamingConfig{
			Strategy:    st,
			Prefix:      opts["prefix"],
			SourceField: src,
		}
		if v := opts["field"]; v != "" {
			t.Naming.SourceField = v
		}
		if st == NamingDerived && t.Naming.SourceField == "" {
			return fmt.Errorf("table %s: naming by field requires a source field", t.Name)
		}
	case "id":
		if rest == "" {
			return fmt.Errorf("table %s: @id requires a field name", t.Name)
		}
		t.IDField = rest
	case "label":
		t.TargetEntityName = unquote(rest)
	default:
		return fmt.Errorf("table %s: unknown directive @%s", t.Name, name)
	}
	return nil
}

// LoadTables читает один .dsl файл и возвращает список таблиц.
func LoadTables(path string) ([]*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	tables, err := ParseTables(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tables, nil
}

// ParseTables разбирает DSL из произвольного reader'а.
func ParseTables(r io.Reader) ([]*Table, error) {
	var tables []*Table
	var current *Table
	currentModule := ""

	closeCurrent := func() {
		if current == nil {
			return
		}
		if current.IDField == "" {
			current.IDField = DefaultIDField
		}
		if current.Naming.Strategy == "" {
			current.Naming.Strategy = NamingUserProvided
		}
		tables = append(tables, current)
	}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			currentModule = m[1]
			continue
		}

		// table <Name>:
		if m := tableRe.FindStringSubmatch(line); m != nil {
			closeCurrent()
			current = &Table{Name: m[1], Module: currentModule}
			continue
		}
		if current == nil {
			// игнорируем всё вне таблицы
			continue
		}

		if m := directiveRe.FindStringSubmatch(line); m != nil {
			if err := applyDirective(current, m[1], m[2]); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}

		if m := fieldRe.FindStringSubmatch(line); m != nil {
			f, err := parseField(m[1], m[2], m[3])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if _, dup := current.Field(f.Name); dup {
				return nil, fmt.Errorf("line %d: duplicate field %q in %s", lineNo, f.Name, current.Name)
			}
			current.Fields = append(current.Fields, f)
			continue
		}
		return nil, fmt.Errorf("line %d: cannot parse %q", lineNo, line)
	}
	closeCurrent()
	return tables, scanner.Err()
}

// LoadAllTables обходит папку с *.dsl и собирает таблицы по FQN.
func LoadAllTables(root string) (map[string]*Table, error) {
	result := make(map[string]*Table)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		tables, err := LoadTables(path)
		if err != nil {
			return err
		}

		for _, t := range tables {
			if t.Module == "" {
				return fmt.Errorf("table %q in %s has no module — add `module <name>` at the top", t.Name, path)
			}
			fqn := t.FQN()
			if _, exists := result[fqn]; exists {
				return fmt.Errorf("duplicate table %q in module %q (file: %s)", t.Name, t.Module, path)
			}
			result[fqn] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

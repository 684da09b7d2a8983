package animation

import (
	"fmt"
	"regexp"
	"strings"
)

type statement struct {
	toks  []token
	depth int
	line  int
	// opensBlock is set when the statement ends with ':'.
	opensBlock bool
	// indented is set when the next token after the statement is an INDENT.
	indented bool
}

func (s statement) first() token {
	if len(s.toks) == 0 {
		return token{}
	}
	return s.toks[0]
}

type sceneClass struct {
	name string
	base string
	line int
	stmt int
}

type analysis struct {
	toks       []token
	stmts      []statement
	strayBlock int // line of an INDENT that follows no block opener

	aliases map[string]string // local name -> allowed module
	defined map[string]bool
	methods map[string]bool

	manimImports []token
	scenes       []sceneClass
	scene        sceneClass
}

var pyKeywords = set(
	"False", "None", "True", "and", "as", "assert", "async", "await", "break",
	"class", "continue", "def", "del", "elif", "else", "except", "finally", "for",
	"from", "global", "if", "import", "in", "is", "lambda", "nonlocal", "not", "or",
	"pass", "raise", "return", "try", "while", "with", "yield",
)

// Matches the scene-detection rule of the renderer: any base whose name
// contains "Scene".
var sceneBaseRe = regexp.MustCompile(`^\w*Scene\w*$`)

func newAnalysis(toks []token) *analysis {
	a := &analysis{
		toks:    toks,
		aliases: map[string]string{},
		defined: map[string]bool{"self": true, "cls": true},
		methods: map[string]bool{},
	}
	a.split()
	return a
}

// split groups tokens into logical statements, splitting on NEWLINE and on
// top-level ';'.
func (a *analysis) split() {
	var cur []token
	nesting := 0
	flush := func(next int) {
		if len(cur) == 0 {
			return
		}
		st := statement{toks: cur, depth: cur[0].depth, line: cur[0].line}
		st.opensBlock = cur[len(cur)-1].is(tokOp, ":")
		if next < len(a.toks) && a.toks[next].kind == tokIndent {
			st.indented = true
		}
		a.stmts = append(a.stmts, st)
		cur = nil
	}

	for i, t := range a.toks {
		switch t.kind {
		case tokNewline:
			flush(i + 1)
		case tokIndent:
			if len(a.stmts) == 0 || !a.stmts[len(a.stmts)-1].opensBlock {
				if a.strayBlock == 0 {
					a.strayBlock = t.line
				}
			}
		case tokDedent, tokEOF:
		default:
			if t.kind == tokOp {
				switch t.text {
				case "(", "[", "{":
					nesting++
				case ")", "]", "}":
					nesting--
				}
			}
			if t.is(tokOp, ";") && nesting == 0 {
				flush(i + 1)
				continue
			}
			cur = append(cur, t)
		}
	}
	flush(len(a.toks))
}

func (a *analysis) checkBlocks() *CodeViolation {
	if a.strayBlock > 0 {
		return &CodeViolation{Kind: KindSyntax, Line: a.strayBlock, Detail: "unexpected indent"}
	}
	for _, st := range a.stmts {
		if st.opensBlock && !st.indented {
			return &CodeViolation{Kind: KindSyntax, Line: st.line,
				Detail: fmt.Sprintf("expected an indented block after %q statement", st.first().text)}
		}
	}
	return nil
}

func (a *analysis) checkImports() *CodeViolation {
	for _, st := range a.stmts {
		switch f := st.first(); {
		case f.is(tokName, "import"):
			if cv := a.importStmt(st); cv != nil {
				return cv
			}
		case f.is(tokName, "from"):
			if cv := a.fromStmt(st); cv != nil {
				return cv
			}
		}
	}
	return nil
}

// importStmt handles "import a.b [as c], d".
func (a *analysis) importStmt(st statement) *CodeViolation {
	toks := st.toks[1:]
	for len(toks) > 0 {
		path, rest := dottedName(toks)
		if path == "" {
			return &CodeViolation{Kind: KindSyntax, Line: st.line, Detail: "invalid import statement"}
		}
		root := strings.Split(path, ".")[0]
		if !allowedModules[root] {
			return &CodeViolation{Kind: KindForbiddenImport, Identifier: path, Line: st.line,
				Detail: fmt.Sprintf("import of %q is not allowed", path)}
		}
		if cv := deniedSubmodule(path, st.line); cv != nil {
			return cv
		}
		local := root
		if len(rest) >= 2 && rest[0].is(tokName, "as") && rest[1].kind == tokName {
			local = rest[1].text
			rest = rest[2:]
		}
		a.aliases[local] = root
		a.defined[local] = true
		if len(rest) > 0 && rest[0].is(tokOp, ",") {
			rest = rest[1:]
		}
		toks = rest
	}
	return nil
}

// fromStmt handles "from a.b import x [as y], *".
func (a *analysis) fromStmt(st statement) *CodeViolation {
	toks := st.toks[1:]
	if len(toks) > 0 && toks[0].is(tokOp, ".") || len(toks) > 0 && toks[0].is(tokOp, "...") {
		return &CodeViolation{Kind: KindForbiddenImport, Identifier: ".", Line: st.line, Detail: "relative imports are not allowed"}
	}
	path, rest := dottedName(toks)
	if path == "" || len(rest) == 0 || !rest[0].is(tokName, "import") {
		return &CodeViolation{Kind: KindSyntax, Line: st.line, Detail: "invalid from-import statement"}
	}
	root := strings.Split(path, ".")[0]
	if !allowedModules[root] {
		return &CodeViolation{Kind: KindForbiddenImport, Identifier: path, Line: st.line,
			Detail: fmt.Sprintf("import from %q is not allowed", path)}
	}
	if cv := deniedSubmodule(path, st.line); cv != nil {
		return cv
	}
	for i := 1; i < len(rest); i++ {
		t := rest[i]
		if t.kind != tokName {
			continue
		}
		if i > 0 && rest[i-1].is(tokName, "as") {
			a.defined[t.text] = true
			continue
		}
		if t.text == "as" {
			continue
		}
		if denied := deniedModuleCalls[root]; denied[t.text] || deniedMember(t.text) {
			return &CodeViolation{Kind: KindDenylistedCall, Identifier: t.text, Line: t.line,
				Detail: fmt.Sprintf("%q from %s is denylisted", t.text, root)}
		}
		if root == "manim" {
			a.manimImports = append(a.manimImports, t)
			continue
		}
		a.defined[t.text] = true
	}
	return nil
}

// deniedSubmodule rejects imports such as numpy.ctypeslib that name a denied
// member of an allowed module.
func deniedSubmodule(path string, line int) *CodeViolation {
	for _, part := range strings.Split(path, ".")[1:] {
		if deniedMember(part) {
			return &CodeViolation{Kind: KindForbiddenImport, Identifier: path, Line: line,
				Detail: fmt.Sprintf("import of %q is not allowed", path)}
		}
	}
	return nil
}

func dottedName(toks []token) (string, []token) {
	var parts []string
	i := 0
	for i < len(toks) {
		if toks[i].kind != tokName || pyKeywords[toks[i].text] {
			break
		}
		parts = append(parts, toks[i].text)
		i++
		if i < len(toks) && toks[i].is(tokOp, ".") {
			i++
			continue
		}
		break
	}
	return strings.Join(parts, "."), toks[i:]
}

// checkDenylist scans every token. Side-effecting names are rejected wherever
// they appear, not only at call sites, so aliasing them is also caught. After a
// dot the receiver is not trusted: the same names are rejected on any chain.
func (a *analysis) checkDenylist() *CodeViolation {
	for i, t := range a.toks {
		if t.kind != tokName {
			continue
		}
		afterDot := i > 0 && a.toks[i-1].is(tokOp, ".")
		if deniedAttributes[t.text] {
			return &CodeViolation{Kind: KindDenylistedCall, Identifier: t.text, Line: t.line,
				Detail: fmt.Sprintf("%q is denylisted", t.text)}
		}
		if !afterDot {
			if deniedNames[t.text] {
				return &CodeViolation{Kind: KindDenylistedCall, Identifier: t.text, Line: t.line,
					Detail: fmt.Sprintf("%q is denylisted: generated code may not touch files, processes or the network", t.text)}
			}
			continue
		}
		if i >= 2 && a.toks[i-2].kind == tokName && (i < 3 || !a.toks[i-3].is(tokOp, ".")) {
			if mod, ok := a.aliases[a.toks[i-2].text]; ok && deniedModuleCalls[mod][t.text] {
				name := a.toks[i-2].text + "." + t.text
				return &CodeViolation{Kind: KindDenylistedCall, Identifier: name, Line: t.line,
					Detail: fmt.Sprintf("%q is denylisted", name)}
			}
		}
		if deniedMember(t.text) {
			name := t.text
			if i >= 2 && a.toks[i-2].kind == tokName {
				name = a.toks[i-2].text + "." + name
			}
			return &CodeViolation{Kind: KindDenylistedCall, Identifier: name, Line: t.line,
				Detail: fmt.Sprintf("attribute %q is denylisted: generated code may not reach interpreter internals, files or foreign code", name)}
		}
	}
	return nil
}

// receiverRoot walks a dotted call target back to its first name. It returns
// the index of that name, or -1 when the chain starts at a call, subscript or
// literal.
func (a *analysis) receiverRoot(dot int) int {
	j := dot - 1
	for j >= 0 && a.toks[j].kind == tokName {
		if j >= 1 && a.toks[j-1].is(tokOp, ".") {
			j -= 2
			continue
		}
		return j
	}
	return -1
}

func (a *analysis) checkSceneCount() *CodeViolation {
	for i, st := range a.stmts {
		if st.depth != 0 || len(st.toks) < 2 || !st.first().is(tokName, "class") {
			continue
		}
		name := st.toks[1].text
		for _, b := range classBases(st) {
			if sceneBaseRe.MatchString(b) {
				a.scenes = append(a.scenes, sceneClass{name: name, base: b, line: st.line, stmt: i})
				break
			}
		}
	}
	if len(a.scenes) != 1 {
		names := make([]string, 0, len(a.scenes))
		for _, s := range a.scenes {
			names = append(names, s.name)
		}
		detail := fmt.Sprintf("expected exactly one top-level scene class, found %d", len(a.scenes))
		if len(names) > 0 {
			detail += " (" + strings.Join(names, ", ") + ")"
		}
		return &CodeViolation{Kind: KindSceneCount, Detail: detail}
	}
	a.scene = a.scenes[0]
	return nil
}

// classBases returns the last component of each base in "class X(a.B, C):".
func classBases(st statement) []string {
	var out []string
	if len(st.toks) < 3 || !st.toks[2].is(tokOp, "(") {
		return out
	}
	nesting := 0
	last := ""
	for _, t := range st.toks[2:] {
		switch {
		case t.is(tokOp, "("):
			nesting++
		case t.is(tokOp, ")"):
			nesting--
			if nesting == 0 {
				if last != "" {
					out = append(out, last)
				}
				return out
			}
		case nesting == 1 && t.is(tokOp, ","):
			if last != "" {
				out = append(out, last)
			}
			last = ""
		case nesting == 1 && t.kind == tokName:
			last = t.text
		case nesting == 1 && t.is(tokOp, "="):
			// metaclass=... is not a base
			last = ""
		}
	}
	return out
}

func (a *analysis) checkConstruct() *CodeViolation {
	cls := a.stmts[a.scene.stmt]
	for _, st := range a.stmts[a.scene.stmt+1:] {
		if st.depth <= cls.depth {
			break
		}
		if st.depth != cls.depth+1 || len(st.toks) < 4 {
			continue
		}
		if st.toks[0].is(tokName, "def") && st.toks[1].is(tokName, "construct") && st.toks[2].is(tokOp, "(") {
			if st.toks[3].is(tokName, "self") {
				return nil
			}
			return &CodeViolation{Kind: KindMissingConstruct, Identifier: a.scene.name, Line: st.line,
				Detail: "construct must take self as its first parameter"}
		}
	}
	return &CodeViolation{Kind: KindMissingConstruct, Identifier: a.scene.name, Line: a.scene.line,
		Detail: fmt.Sprintf("scene %s has no construct(self) method", a.scene.name)}
}

// collectDefinitions records every name the source binds itself: functions,
// classes, parameters, loop and with/except targets and assignment targets.
func (a *analysis) collectDefinitions() {
	for _, st := range a.stmts {
		toks := st.toks
		for i, t := range toks {
			if t.kind != tokName {
				continue
			}
			switch t.text {
			case "def", "class":
				if i+1 < len(toks) && toks[i+1].kind == tokName {
					a.defined[toks[i+1].text] = true
					if t.text == "def" {
						a.methods[toks[i+1].text] = true
						a.defineParams(toks[i+2:])
					}
				}
			case "as", "global", "nonlocal":
				if i+1 < len(toks) && toks[i+1].kind == tokName {
					a.defined[toks[i+1].text] = true
				}
			case "for":
				for _, u := range toks[i+1:] {
					if u.is(tokName, "in") {
						break
					}
					if u.kind == tokName {
						a.defined[u.text] = true
					}
				}
			case "lambda":
				for _, u := range toks[i+1:] {
					if u.is(tokOp, ":") {
						break
					}
					if u.kind == tokName {
						a.defined[u.text] = true
					}
				}
			}
			if i+1 < len(toks) && toks[i+1].is(tokOp, ":=") {
				a.defined[t.text] = true
			}
		}
		a.defineAssignTargets(toks)
	}
}

func (a *analysis) defineParams(toks []token) {
	if len(toks) == 0 || !toks[0].is(tokOp, "(") {
		return
	}
	nesting := 0
	for i, t := range toks {
		switch {
		case t.is(tokOp, "("), t.is(tokOp, "["), t.is(tokOp, "{"):
			nesting++
		case t.is(tokOp, ")"), t.is(tokOp, "]"), t.is(tokOp, "}"):
			nesting--
			if nesting == 0 {
				return
			}
		case nesting == 1 && t.kind == tokName && i > 0:
			p := toks[i-1]
			if p.is(tokOp, "(") || p.is(tokOp, ",") || p.is(tokOp, "*") || p.is(tokOp, "**") {
				a.defined[t.text] = true
			}
		}
	}
}

// defineAssignTargets marks bare names left of a top-level '=' (including
// augmented and annotated assignment) as defined.
func (a *analysis) defineAssignTargets(toks []token) {
	nesting := 0
	eq := -1
	for i, t := range toks {
		switch {
		case t.is(tokOp, "("), t.is(tokOp, "["), t.is(tokOp, "{"):
			nesting++
		case t.is(tokOp, ")"), t.is(tokOp, "]"), t.is(tokOp, "}"):
			nesting--
		case nesting == 0 && t.kind == tokOp && (t.text == "=" || (strings.HasSuffix(t.text, "=") && len(t.text) >= 2 && !isComparison(t.text))):
			eq = i
		case nesting == 0 && t.is(tokOp, ":") && i == 1:
			eq = i
		}
		if eq >= 0 {
			break
		}
	}
	if eq < 0 {
		return
	}
	nesting = 0
	for i, t := range toks[:eq] {
		switch {
		case t.is(tokOp, "("), t.is(tokOp, "["), t.is(tokOp, "{"):
			nesting++
		case t.is(tokOp, ")"), t.is(tokOp, "]"), t.is(tokOp, "}"):
			nesting--
		case t.kind == tokName && (nesting == 0 || toks[0].is(tokOp, "(") || toks[0].is(tokOp, "[")):
			if i > 0 && toks[i-1].is(tokOp, ".") {
				continue
			}
			a.defined[t.text] = true
		}
	}
}

func isComparison(op string) bool {
	return op == "==" || op == "!=" || op == "<=" || op == ">="
}

// checkPrimitives verifies that every callable the source invokes against the
// library is approved or defined by the source itself.
func (a *analysis) checkPrimitives(ctors, funcs map[string]bool) *CodeViolation {
	a.collectDefinitions()

	if !sceneBases[a.scene.base] {
		return disallowed(a.scene.base, a.scene.line, "scene base class")
	}
	for _, t := range a.manimImports {
		if isConstantName(t.text) || ctors[t.text] || funcs[t.text] || sceneBases[t.text] {
			a.defined[t.text] = true
			continue
		}
		return disallowed(t.text, t.line, "library import")
	}

	for i, t := range a.toks {
		if t.kind != tokName || i+1 >= len(a.toks) || !a.toks[i+1].is(tokOp, "(") {
			continue
		}
		if pyKeywords[t.text] {
			continue
		}
		if i > 0 && (a.toks[i-1].is(tokName, "def") || a.toks[i-1].is(tokName, "class")) {
			continue
		}

		if i > 0 && a.toks[i-1].is(tokOp, ".") {
			root := a.receiverRoot(i - 1)
			if root < 0 {
				continue
			}
			recv := a.toks[root].text
			// first member after the root, t itself on a direct call
			member := a.toks[root+2].text
			direct := root == i-2
			switch {
			case recv == "self":
				if direct && !sceneMethods[t.text] && !a.methods[t.text] {
					return disallowed("self."+t.text, t.line, "scene method")
				}
			case a.aliases[recv] == "manim":
				if !ctors[member] && !funcs[member] && (direct || !isConstantName(member)) {
					return disallowed(recv+"."+member, t.line, "library call")
				}
			case a.aliases[recv] != "", a.defined[recv], allowedNamespaces[recv],
				ctors[recv], funcs[recv], sceneBases[recv], isConstantName(recv), pyKeywords[recv]:
			default:
				return disallowed(recv+"."+member, t.line, "call receiver")
			}
			continue
		}

		name := t.text
		if a.defined[name] || ctors[name] || funcs[name] || sceneBases[name] {
			continue
		}
		return disallowed(name, t.line, "call")
	}
	return nil
}

func disallowed(name string, line int, what string) *CodeViolation {
	return &CodeViolation{
		Kind:       KindDisallowedPrimitive,
		Identifier: name,
		Line:       line,
		Detail:     fmt.Sprintf("%s %q is not an approved animation primitive", what, name),
	}
}

// isConstantName reports names like UP, RED or DEGREES.
func isConstantName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

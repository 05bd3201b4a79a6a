package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/hle-runtime/mem"
	"github.com/wippyai/hle-runtime/objc"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	classStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// pageSize is how many list rows are shown at once.
const pageSize = 20

type interactiveModel struct {
	err      error
	sess     *session
	opts     options
	pool     objc.PoolToken
	result   string
	classes  []*objc.Class
	methods  []methodInfo
	inputs   []textinput.Model
	class    int
	selected int
	focusIdx int
	state    modelState
}

type methodInfo struct {
	method    objc.Method
	classSide bool
}

func (mi methodInfo) String() string {
	prefix := "-"
	if mi.classSide {
		prefix = "+"
	}
	return prefix + string(mi.method.Sel)
}

type modelState int

const (
	stateSelectClass modelState = iota
	stateSelectMethod
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(o options) *interactiveModel {
	return &interactiveModel{opts: o, state: stateSelectClass}
}

type loadedMsg struct {
	err  error
	sess *session
}

type sendResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := load(context.Background(), m.opts)
	return loadedMsg{err: err, sess: s}
}

func (m *interactiveModel) quit() {
	if m.sess == nil {
		return
	}
	ctx := context.Background()
	_ = m.sess.env.Objc.PopPool(ctx, m.pool)
	_ = m.sess.env.Drain(ctx)
	m.sess.close(ctx)
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
				m.quit()
				return m, tea.Quit
			}

		case "up", "k":
			if (m.state == stateSelectClass || m.state == stateSelectMethod) && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectClass && m.selected < len(m.classes)-1 {
				m.selected++
			}
			if m.state == stateSelectMethod && m.selected < len(m.methods)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectClass:
				if len(m.classes) == 0 {
					break
				}
				m.class = m.selected
				m.methods = methodsOf(m.classes[m.class])
				m.selected = 0
				m.state = stateSelectMethod

			case stateSelectMethod:
				if len(m.methods) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.send
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.send

			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateSelectMethod:
				m.state = stateSelectClass
				m.selected = m.class
			case stateInputArgs:
				m.state = stateSelectMethod
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sess = msg.sess
		m.classes = msg.sess.env.Objc.Classes()
		// Results of convenience constructors land here.
		m.pool = msg.sess.env.Objc.PushPool()

	case sendResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func methodsOf(c *objc.Class) []methodInfo {
	var out []methodInfo
	for _, mm := range c.ClassMethods() {
		out = append(out, methodInfo{method: mm, classSide: true})
	}
	for _, mm := range c.Methods() {
		out = append(out, methodInfo{method: mm})
	}
	return out
}

// prepareInputs creates one field per message argument, preceded by the
// receiver for instance methods.
func (m *interactiveModel) prepareInputs() {
	mi := m.methods[m.selected]
	var prompts, placeholders []string
	if !mi.classSide {
		prompts = append(prompts, "self")
		placeholders = append(placeholders, "0x… object address")
	}
	for i, t := range mi.method.ArgTypes() {
		prompts = append(prompts, fmt.Sprintf("arg%d", i))
		placeholders = append(placeholders, typeName(t)+` or "string"`)
	}
	m.inputs = make([]textinput.Model, len(prompts))
	for i := range prompts {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.Prompt = prompts[i] + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) send() tea.Msg {
	ctx := context.Background()
	if m.sess == nil {
		return sendResultMsg{err: fmt.Errorf("image not loaded")}
	}
	rt := m.sess.env.Objc
	c := m.classes[m.class]
	mi := m.methods[m.selected]

	recv := c.ID()
	values := make([]string, len(m.inputs))
	for i, in := range m.inputs {
		values[i] = strings.TrimSpace(in.Value())
	}
	if !mi.classSide {
		v, err := strconv.ParseUint(values[0], 0, 32)
		if err != nil {
			return sendResultMsg{err: fmt.Errorf("receiver: %w", err)}
		}
		recv = objc.ID(v)
		values = values[1:]
	}

	types := mi.method.ArgTypes()
	args := make([]uint64, len(types))
	for i, t := range types {
		v, err := m.convertArg(values[i], t)
		if err != nil {
			return sendResultMsg{err: fmt.Errorf("arg%d: %w", i, err)}
		}
		args[i] = v
	}

	res, err := rt.Send(ctx, recv, mi.method.Sel, args...)
	if err != nil {
		return sendResultMsg{err: err}
	}
	return sendResultMsg{result: m.formatResult(ctx, res, mi.method)}
}

// convertArg parses a field for a parameter of type t. A quoted value
// becomes an autoreleased NSString.
func (m *interactiveModel) convertArg(value string, t api.ValueType) (uint64, error) {
	if strings.HasPrefix(value, `"`) && t == api.ValueTypeI32 {
		s, err := strconv.Unquote(value)
		if err != nil {
			return 0, err
		}
		id, err := m.sess.fd.String(s)
		if err != nil {
			return 0, err
		}
		if id, err = m.sess.env.Objc.Autorelease(id); err != nil {
			return 0, err
		}
		return api.EncodeU32(uint32(id)), nil
	}
	if value == "" {
		return 0, nil
	}
	switch t {
	case api.ValueTypeI32:
		v, err := strconv.ParseInt(value, 0, 64)
		return api.EncodeI32(int32(v)), err
	case api.ValueTypeI64:
		v, err := strconv.ParseInt(value, 0, 64)
		return api.EncodeI64(v), err
	case api.ValueTypeF32:
		v, err := strconv.ParseFloat(value, 32)
		return api.EncodeF32(float32(v)), err
	case api.ValueTypeF64:
		v, err := strconv.ParseFloat(value, 64)
		return api.EncodeF64(v), err
	}
	return 0, fmt.Errorf("unsupported parameter type %s", typeName(t))
}

func (m *interactiveModel) formatResult(ctx context.Context, res uint64, mm objc.Method) string {
	if mm.StructRet > 0 {
		arena := m.sess.env.Arena
		block := mem.Addr(api.DecodeU32(res))
		defer func() { _ = arena.Free(block) }()
		b, err := arena.ReadBytes(block, mm.StructRet)
		if err != nil {
			return fmt.Sprintf("struct at %v (%v)", block, err)
		}
		return fmt.Sprintf("struct % x", b)
	}
	if len(mm.Sig.Results) == 0 {
		return "(void)"
	}
	switch mm.ResultType() {
	case api.ValueTypeF32:
		return strconv.FormatFloat(float64(api.DecodeF32(res)), 'g', -1, 32)
	case api.ValueTypeF64:
		return strconv.FormatFloat(api.DecodeF64(res), 'g', -1, 64)
	case api.ValueTypeI64:
		return strconv.FormatInt(int64(res), 10)
	}
	id := objc.ID(api.DecodeU32(res))
	rt := m.sess.env.Objc
	if !rt.IsObject(id) {
		if _, ok := rt.ClassByID(id); !ok {
			return fmt.Sprintf("%d (%#x)", api.DecodeI32(res), uint32(id))
		}
	}
	desc, err := m.sess.fd.Describe(ctx, id)
	if err != nil {
		return fmt.Sprintf("%v (description failed: %v)", id, err)
	}
	return fmt.Sprintf("%v %s", id, desc)
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.sess == nil {
		return "Loading image..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("HLE Runner"))
	b.WriteString(" ")
	b.WriteString(m.sess.name)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectClass:
		b.WriteString(fmt.Sprintf("Classes (%d objects live):\n\n", m.sess.env.Objc.Live()))
		m.renderList(&b, len(m.classes), func(i int) string { return m.formatClass(m.classes[i]) })
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter methods • q quit"))

	case stateSelectMethod:
		c := m.classes[m.class]
		b.WriteString(fmt.Sprintf("Methods of %s:\n\n", classStyle.Render(c.Name())))
		if len(m.methods) == 0 {
			b.WriteString(helpStyle.Render("  (none)\n"))
		}
		m.renderList(&b, len(m.methods), func(i int) string { return formatMethod(m.methods[i]) })
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter send • esc back • q quit"))

	case stateInputArgs:
		mi := m.methods[m.selected]
		b.WriteString(fmt.Sprintf("Sending %s\n\n", classStyle.Render(mi.String())))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter send • esc back"))

	case stateShowResult:
		mi := m.methods[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", classStyle.Render(mi.String())))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

// renderList writes the page of n rows around the selection.
func (m *interactiveModel) renderList(b *strings.Builder, n int, row func(int) string) {
	start := 0
	if m.selected >= pageSize {
		start = m.selected - pageSize + 1
	}
	for i := start; i < n && i < start+pageSize; i++ {
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + row(i)))
		} else {
			b.WriteString("  " + row(i))
		}
		b.WriteString("\n")
	}
}

func (m *interactiveModel) formatClass(c *objc.Class) string {
	kind := "guest"
	if c.IsHost() {
		kind = "host"
	}
	line := classStyle.Render(c.Name())
	if c.SuperName() != "" {
		line += " : " + c.SuperName()
	}
	return line + " " + typeStyle.Render(kind)
}

func formatMethod(mi methodInfo) string {
	var params []string
	for _, t := range mi.method.ArgTypes() {
		params = append(params, typeStyle.Render(typeName(t)))
	}
	impl := "host"
	if !mi.method.IMP.IsHost() {
		impl = fmt.Sprintf("guest %#x", uint32(mi.method.IMP.Guest()))
	}
	return classStyle.Render(mi.String()) + "(" + strings.Join(params, ", ") + ") " +
		typeStyle.Render(mi.method.Types) + " " + helpStyle.Render(impl)
}

func typeName(t api.ValueType) string {
	return api.ValueTypeName(t)
}

func runInteractive(o options) error {
	p := tea.NewProgram(newInteractiveModel(o), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

package dom

import (
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// initRuntime exposes window, document, alert and console to scripts.
func (d *Document) initRuntime() {
	global := d.vm.GlobalObject()
	if err := global.Set("window", global); err != nil {
		d.logger.Error().Err(err).Msg("failed to set window global")
	}
	if err := global.Set("self", global); err != nil {
		d.logger.Error().Err(err).Msg("failed to set self global")
	}
	if err := global.Set("alert", d.jsAlert); err != nil {
		d.logger.Error().Err(err).Msg("failed to set alert global")
	}

	console := d.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error"} {
		_ = console.Set(level, d.jsConsole(level))
	}
	if err := global.Set("console", console); err != nil {
		d.logger.Error().Err(err).Msg("failed to set console global")
	}

	document := d.vm.NewObject()
	_ = document.Set("getElementsByTagName", d.jsGetElementsByTagName)
	_ = document.Set("getElementById", d.jsGetElementByID)
	if err := global.Set("document", document); err != nil {
		d.logger.Error().Err(err).Msg("failed to set document global")
	}
}

func (d *Document) jsAlert(call goja.FunctionCall) goja.Value {
	d.Notify(call.Argument(0).String())
	return goja.Undefined()
}

func (d *Document) jsConsole(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		line := strings.Join(parts, " ")
		d.stateMu.Lock()
		d.console = append(d.console, line)
		d.stateMu.Unlock()
		d.logger.Debug().Str("level", level).Msg(line)
		return goja.Undefined()
	}
}

func (d *Document) jsGetElementsByTagName(call goja.FunctionCall) goja.Value {
	tag := strings.ToLower(call.Argument(0).String())
	d.domMu.RLock()
	var nodes []*html.Node
	if tag == "*" {
		nodes = htmlquery.Find(d.root, "//*")
	} else {
		nodes = htmlquery.Find(d.root, "//*[local-name()='"+escapeXPath(tag)+"']")
	}
	d.domMu.RUnlock()

	items := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, d.wrapNode(n))
	}
	return d.vm.NewArray(items...)
}

func (d *Document) jsGetElementByID(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	d.domMu.RLock()
	node := htmlquery.FindOne(d.root, "//*[@id='"+escapeXPath(id)+"']")
	d.domMu.RUnlock()
	if node == nil {
		return goja.Null()
	}
	return d.wrapNode(node)
}

// wrapNode exposes a read-mostly view of an element to scripts.
func (d *Document) wrapNode(n *html.Node) goja.Value {
	obj := d.vm.NewObject()
	d.domMu.RLock()
	_ = obj.Set("tagName", strings.ToUpper(n.Data))
	_ = obj.Set("id", htmlquery.SelectAttr(n, "id"))
	_ = obj.Set("textContent", htmlquery.InnerText(n))
	d.domMu.RUnlock()

	_ = obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		d.domMu.RLock()
		defer d.domMu.RUnlock()
		for _, attr := range n.Attr {
			if attr.Key == name {
				return d.vm.ToValue(attr.Val)
			}
		}
		return goja.Null()
	})
	_ = obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		value := call.Argument(1).String()
		d.domMu.Lock()
		defer d.domMu.Unlock()
		for i := range n.Attr {
			if n.Attr[i].Key == name {
				n.Attr[i].Val = value
				return goja.Undefined()
			}
		}
		n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
		return goja.Undefined()
	})
	return obj
}

func escapeXPath(s string) string {
	return strings.ReplaceAll(s, "'", "")
}

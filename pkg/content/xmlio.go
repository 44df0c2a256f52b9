package content

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// parseBody walks word/document.xml token by token, preserving element
// order across mixed paragraph/table content — something encoding/xml's
// struct-field unmarshalling cannot do directly for interleaved element
// kinds.
func parseBody(doc []byte) ([]*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	var body []*Element
	inBody := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode token: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "body":
				inBody = true
			case "p":
				if !inBody {
					continue
				}
				el, err := decodeParagraph(dec, t)
				if err != nil {
					return nil, err
				}
				body = append(body, el)
			case "tbl":
				if !inBody {
					continue
				}
				el, err := decodeTable(dec, t)
				if err != nil {
					return nil, err
				}
				body = append(body, el)
			}
		case xml.EndElement:
			if localName(t.Name) == "body" {
				inBody = false
			}
		}
	}
	return body, nil
}

func localName(n xml.Name) string {
	if i := lastIndexByte(n.Local, ':'); i >= 0 {
		return n.Local[i+1:]
	}
	return n.Local
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func attrValue(attrs []xml.Attr, local string) string {
	for _, a := range attrs {
		if localName(a.Name) == local {
			return a.Value
		}
	}
	return ""
}

func decodeParagraph(dec *xml.Decoder, start xml.StartElement) (*Element, error) {
	p := &Paragraph{
		Style: attrValue(start.Attr, "style"),
	}
	id := attrValue(start.Attr, "id")

	var curRun *Run
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode paragraph: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if localName(t.Name) == "r" {
				p.Runs = append(p.Runs, Run{})
				curRun = &p.Runs[len(p.Runs)-1]
			}
		case xml.CharData:
			if curRun != nil {
				curRun.Text += string(t)
			}
		case xml.EndElement:
			switch localName(t.Name) {
			case "r":
				curRun = nil
			case "p":
				return &Element{ID: id, Type: ElementParagraph, Paragraph: p}, nil
			}
		}
	}
}

func decodeTable(dec *xml.Decoder, start xml.StartElement) (*Element, error) {
	tbl := &Table{}
	id := attrValue(start.Attr, "id")

	var curRow *Row
	var cellBuf *bytes.Buffer
	inCell := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode table: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch localName(t.Name) {
			case "tr":
				tbl.Rows = append(tbl.Rows, Row{})
				curRow = &tbl.Rows[len(tbl.Rows)-1]
			case "tc":
				inCell = true
				cellBuf = &bytes.Buffer{}
			}
		case xml.CharData:
			if inCell {
				cellBuf.Write(t)
			}
		case xml.EndElement:
			switch localName(t.Name) {
			case "tc":
				inCell = false
				if curRow != nil {
					curRow.Cells = append(curRow.Cells, Cell{Text: cellBuf.String()})
				}
			case "tbl":
				return &Element{ID: id, Type: ElementTable, Table: tbl}, nil
			}
		}
	}
}

// renderBody writes the document.xml bytes for body deterministically.
func renderBody(body []*Element) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	fmt.Fprintf(&buf, "<w:document xmlns:w=%q xmlns:dxe=%q>\n<w:body>\n", wordprocessingNamespace, idNamespace)

	for _, el := range body {
		switch el.Type {
		case ElementParagraph:
			renderParagraph(&buf, el)
		case ElementTable:
			renderTable(&buf, el)
		}
	}

	buf.WriteString("</w:body>\n</w:document>\n")
	return buf.Bytes(), nil
}

func renderParagraph(buf *bytes.Buffer, el *Element) {
	fmt.Fprintf(buf, "<w:p dxe:id=%q", el.ID)
	if el.Paragraph.Style != "" {
		fmt.Fprintf(buf, " style=%q", el.Paragraph.Style)
	}
	buf.WriteString(">")
	for _, r := range el.Paragraph.Runs {
		buf.WriteString("<w:r><w:t>")
		xml.EscapeText(buf, []byte(r.Text))
		buf.WriteString("</w:t></w:r>")
	}
	buf.WriteString("</w:p>\n")
}

func renderTable(buf *bytes.Buffer, el *Element) {
	fmt.Fprintf(buf, "<w:tbl dxe:id=%q>\n", el.ID)
	for _, row := range el.Table.Rows {
		buf.WriteString("<w:tr>")
		for _, cell := range row.Cells {
			buf.WriteString("<w:tc><w:p><w:r><w:t>")
			xml.EscapeText(buf, []byte(cell.Text))
			buf.WriteString("</w:t></w:r></w:p></w:tc>")
		}
		buf.WriteString("</w:tr>\n")
	}
	buf.WriteString("</w:tbl>\n")
}

// skeletonParts are the non-body zip entries a brand-new document needs
// to be a structurally valid OOXML package.
var skeletonParts = map[string][]byte{
	"[Content_Types].xml": []byte(xml.Header + `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>` +
		`<Default Extension="xml" ContentType="application/xml"/>` +
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
		`</Types>`),
	"_rels/.rels": []byte(xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
		`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>` +
		`</Relationships>`),
	"word/_rels/document.xml.rels": []byte(xml.Header + `<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"/>`),
}

package archive

import (
	"fmt"

	"github.com/xtxerr/tabarch/internal/container"
	"github.com/xtxerr/tabarch/internal/errors"
	"github.com/xtxerr/tabarch/internal/feed"
)

// Per-column metadata attribute names. MATLAB_class carries the interchange
// format's canonical type name; MATLAB_empty marks the shared null
// placeholder; H5PATH points a cell value back at its reference group.
const (
	attrLabel    = "label"
	attrClass    = "MATLAB_class"
	attrEmpty    = "MATLAB_empty"
	attrH5Path   = "H5PATH"
	classCell    = "cell"
	refGroupName = "#refs#"
)

// elemMapping pairs a container element type with its canonical class name.
type elemMapping struct {
	elem  container.ElemType
	class string
}

// matClass maps feed element types to the interchange format's canonical
// type names. Types absent here (bool, string) have no known mapping.
var matClass = map[feed.ElemType]elemMapping{
	feed.Float32: {container.Float32, "single"},
	feed.Float64: {container.Float64, "double"},
	feed.Int8:    {container.Int8, "int8"},
	feed.Int16:   {container.Int16, "int16"},
	feed.Int32:   {container.Int32, "int32"},
	feed.Int64:   {container.Int64, "int64"},
	feed.Uint8:   {container.Uint8, "uint8"},
	feed.Uint16:  {container.Uint16, "uint16"},
	feed.Uint32:  {container.Uint32, "uint32"},
	feed.Uint64:  {container.Uint64, "uint64"},
}

// mapElem resolves a feed element type to its storage mapping.
func mapElem(e feed.ElemType) (elemMapping, error) {
	m, ok := matClass[e]
	if !ok {
		return m, fmt.Errorf("element type %s: %w", e, errors.ErrUnsupportedElementType)
	}
	return m, nil
}

// appendNumeric extends (creating on first sight) the column for a numeric
// field and copies the batch in. Returns the number of rows appended.
func (a *ArchiveFile) appendNumeric(f *feed.Field) (int, error) {
	path := joinPath(a.groupPath, f.Name)

	d, ok := a.c.Dataset(path)
	if !ok {
		m, err := mapElem(f.Numeric.Elem)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if d, err = a.c.CreateDataset(path, m.elem, a.compress); err != nil {
			return 0, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if err := d.SetAttr(attrLabel, f.Label); err != nil {
			return 0, err
		}
		if err := d.SetAttr(attrClass, m.class); err != nil {
			return 0, err
		}
	}

	n, err := d.Append(f.Numeric.Data)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return n, nil
}

// appendCells extends (creating on first sight) the reference column for a
// cell field. Absent values share the per-file null placeholder; each
// present value becomes a uniquely named blob dataset in the reference
// group, tagged with the file's next-reference counter.
func (a *ArchiveFile) appendCells(f *feed.Field) (int, error) {
	path := joinPath(a.groupPath, f.Name)

	d, ok := a.c.Dataset(path)
	if !ok {
		var err error
		if d, err = a.c.CreateRefDataset(path); err != nil {
			return 0, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if err := d.SetAttr(attrLabel, f.Label); err != nil {
			return 0, err
		}
		if err := d.SetAttr(attrClass, classCell); err != nil {
			return 0, err
		}
	}

	refsPath := joinPath(a.groupPath, refGroupName)
	if err := a.c.RequireGroup(refsPath); err != nil {
		return 0, err
	}

	refs := make([]container.Ref, 0, len(f.Cells))
	for i, cell := range f.Cells {
		if cell == nil {
			null, err := a.nullPlaceholder(refsPath)
			if err != nil {
				return 0, err
			}
			refs = append(refs, null.Ref())
			continue
		}

		m, err := mapElem(cell.Elem)
		if err != nil {
			return 0, fmt.Errorf("field %s cell %d: %w", f.Name, i, err)
		}

		blobPath := fmt.Sprintf("%s/cellval%d", refsPath, a.nextRef)
		a.nextRef++

		// Cell values are always compressed, independent of the column
		// compression setting.
		blob, err := a.c.CreateDataset(blobPath, m.elem, true)
		if err != nil {
			return 0, fmt.Errorf("field %s cell %d: %w", f.Name, i, err)
		}
		if _, err := blob.Append(cell.Data); err != nil {
			return 0, fmt.Errorf("field %s cell %d: %w", f.Name, i, err)
		}
		if err := blob.SetAttr(attrClass, m.class); err != nil {
			return 0, err
		}
		if err := blob.SetAttr(attrH5Path, refsPath); err != nil {
			return 0, err
		}
		refs = append(refs, blob.Ref())
	}

	n, err := d.AppendRefs(refs)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return n, nil
}

// nullPlaceholder returns the file's shared null placeholder, creating it on
// first need. Every absent cell references this one object.
func (a *ArchiveFile) nullPlaceholder(refsPath string) (*container.Dataset, error) {
	if a.null != nil {
		return a.null, nil
	}

	null, err := a.c.CreateDataset(refsPath+"/null", container.Uint64, false)
	if err != nil {
		return nil, fmt.Errorf("null placeholder: %w", err)
	}
	if _, err := null.Append([]uint64{0, 1}); err != nil {
		return nil, fmt.Errorf("null placeholder: %w", err)
	}
	if err := null.SetAttr(attrClass, "double"); err != nil {
		return nil, err
	}
	if err := null.SetAttr(attrH5Path, refsPath); err != nil {
		return nil, err
	}
	if err := null.SetAttr(attrEmpty, uint8(1)); err != nil {
		return nil, err
	}

	a.null = null
	return null, nil
}

// joinPath joins a group path and a member name.
func joinPath(group, name string) string {
	if group == "/" {
		return "/" + name
	}
	return group + "/" + name
}

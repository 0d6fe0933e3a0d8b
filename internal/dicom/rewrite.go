package dicom

// Walk visits every element of the dataset in ascending tag order,
// recursing depth-first into sequence items. The visit function receives
// the nesting depth, starting at 0 for top-level elements. Traversal stops
// at the first error.
func (ds *DataSet) Walk(visit func(depth int, e *Element) error) error {
	return ds.walk(0, visit)
}

func (ds *DataSet) walk(depth int, visit func(depth int, e *Element) error) error {
	for _, e := range ds.SortedElements() {
		if err := visit(depth, e); err != nil {
			return err
		}
		if seq := e.Sequence(); seq != nil {
			for _, item := range seq.Items {
				if err := item.walk(depth+1, visit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// RewriteFunc receives a copy of an element and returns the element to
// place in the rewritten tree. Returning the input unchanged keeps the
// element; the function must preserve tag and VR. For sequence elements
// the items have already been rewritten when the function is called.
type RewriteFunc func(e *Element) (*Element, error)

// Rewrite produces a new tree by applying fn to every element at every
// level. The receiver is never mutated, so callers can still inspect the
// original after rewriting. Sequence elements are rebuilt bottom-up by
// rewriting each item; an item left with zero elements stays in place as
// an empty item.
func (ds *DataSet) Rewrite(fn RewriteFunc) (*DataSet, error) {
	out := NewDataSet()
	for _, e := range ds.SortedElements() {
		copied := e.Clone()
		if seq := copied.Sequence(); seq != nil {
			items := make([]*DataSet, 0, len(seq.Items))
			for _, item := range seq.Items {
				rewritten, err := item.Rewrite(fn)
				if err != nil {
					return nil, err
				}
				items = append(items, rewritten)
			}
			copied.Value = &Sequence{Items: items}
		}
		replaced, err := fn(copied)
		if err != nil {
			return nil, err
		}
		if replaced == nil {
			replaced = copied
		}
		out.Put(replaced)
	}
	return out, nil
}

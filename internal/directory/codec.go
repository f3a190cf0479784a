package directory

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/AikioCorp/buy-web-sub002/internal/domain/catalog"
)

// Encode serializes dir as {"shops":[...],"categories":[...]}.
func Encode(dir catalog.StaticDirectory) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.ObjStart()
	e.FieldStart("shops")
	e.ArrStart()
	for _, s := range dir.ShopList {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(s.ID)
		e.FieldStart("name")
		e.Str(s.Name)
		e.FieldStart("slug")
		e.Str(s.Slug)
		e.FieldStart("logo")
		e.Str(s.Logo)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("categories")
	e.ArrStart()
	for _, c := range dir.CategoryList {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(c.ID)
		e.FieldStart("name")
		e.Str(c.Name)
		e.FieldStart("slug")
		e.Str(c.Slug)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()

	out := make([]byte, len(e.Bytes()))
	copy(out, e.Bytes())
	return out
}

// Decode parses the output of Encode.
func Decode(data []byte) (catalog.StaticDirectory, error) {
	var dir catalog.StaticDirectory
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "shops":
			return d.Arr(func(d *jx.Decoder) error {
				var s catalog.Shop
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "id":
						s.ID, err = d.Str()
					case "name":
						s.Name, err = d.Str()
					case "slug":
						s.Slug, err = d.Str()
					case "logo":
						s.Logo, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return errors.Wrap(err, "shop")
				}
				dir.ShopList = append(dir.ShopList, s)
				return nil
			})
		case "categories":
			return d.Arr(func(d *jx.Decoder) error {
				var c catalog.Category
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "id":
						c.ID, err = d.Str()
					case "name":
						c.Name, err = d.Str()
					case "slug":
						c.Slug, err = d.Str()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return errors.Wrap(err, "category")
				}
				dir.CategoryList = append(dir.CategoryList, c)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return catalog.StaticDirectory{}, err
	}
	return dir, nil
}

package index

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBuildQuery(t *testing.T) {
	Convey("Given default column settings", t, func() {
		q := buildQuery(postgisConfig{table: "tiles", idColumn: "id", geomColumn: "geom"})
		So(q, ShouldEqual, `SELECT "id" FROM "tiles" WHERE ST_Covers("geom", ST_SetSRID(ST_MakePoint($1, $2), 4326))`)
	})

	Convey("Given a schema-qualified table and hostile column names", t, func() {
		q := buildQuery(postgisConfig{table: "naip.footprints", idColumn: `url"; drop`, geomColumn: "wkb_geometry"})
		So(q, ShouldEqual, `SELECT "url""; drop" FROM "naip"."footprints" WHERE ST_Covers("wkb_geometry", ST_SetSRID(ST_MakePoint($1, $2), 4326))`)
	})

	Convey("Given options", t, func() {
		idx := NewPostGISIndex(nil, WithTable("t"), WithIDColumn("u"), WithGeomColumn("g"), WithTable(""))
		So(idx.query, ShouldContainSubstring, `FROM "t"`)
		So(idx.query, ShouldContainSubstring, `SELECT "u"`)
	})
}

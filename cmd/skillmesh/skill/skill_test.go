package skillcmder_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	skillmeshcmder "github.com/skillmesh/skillmesh/cmd/skillmesh"
	skillcmder "github.com/skillmesh/skillmesh/cmd/skillmesh/skill"
	"github.com/skillmesh/skillmesh/pkg/resources"
	resourcefs "github.com/skillmesh/skillmesh/pkg/resources/filesystem"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/store/sqlite"
)

func TestSkillCmd(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Skill Command Suite")
}

var _ = Describe("NewSkillCmd", func() {
	It("has list, show, rollback, archive, and delete subcommands", func() {
		cmd := skillcmder.NewSkillCmd()
		names := make([]string, 0, len(cmd.Commands()))
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements("list", "show", "rollback", "archive", "delete"))
	})
})

var _ = Describe("Skill command execution", func() {
	var (
		ctx    context.Context
		tmpDir string
		dbPath string
		out    *bytes.Buffer
	)

	// seed creates a learned group with one production version in the
	// sqlite store the commands will read.
	seed := func(name string) *skill.Group {
		st, err := sqlite.New(dbPath)
		Expect(err).NotTo(HaveOccurred())
		defer st.Close()

		g := &skill.Group{
			Name:           name,
			Description:    "desc of " + name,
			Type:           skill.TypeLearned,
			Scope:          skill.ScopeAgent,
			OwnerAgentName: "web-agent",
		}
		v := &skill.Version{
			Description:     "desc of " + name,
			MarkdownContent: "## " + name,
		}
		Expect(st.CreateGroup(ctx, g, v)).To(Succeed())
		return g
	}

	run := func(args ...string) error {
		root := skillmeshcmder.NewSkillmeshCmd()
		root.SetOut(out)
		root.SetErr(out)
		root.SetArgs(append([]string{"--config-dir", tmpDir, "skill"}, args...))
		return root.ExecuteContext(ctx)
	}

	reopen := func() *sqlite.Store {
		st, err := sqlite.New(dbPath)
		Expect(err).NotTo(HaveOccurred())
		return st
	}

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "skills.db")
		out = &bytes.Buffer{}

		cfg := fmt.Sprintf("version = 1\n\n[storage]\nprovider = %q\nsqlite_path = %q\n", "sqlite", dbPath)
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(cfg), 0o644)).To(Succeed())
	})

	Describe("archive", func() {
		It("marks a group archived by name", func() {
			g := seed("extract-csv")

			Expect(run("archive", "extract-csv")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Archived extract-csv"))

			st := reopen()
			defer st.Close()
			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.IsArchived).To(BeTrue())
		})

		It("is a no-op for an already archived group", func() {
			seed("extract-csv")
			Expect(run("archive", "extract-csv")).To(Succeed())

			out.Reset()
			Expect(run("archive", "extract-csv")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("already archived"))
		})

		It("fails for an unknown skill", func() {
			Expect(run("archive", "no-such-skill")).NotTo(Succeed())
		})
	})

	Describe("delete", func() {
		It("refuses without --force", func() {
			g := seed("extract-csv")

			Expect(run("delete", "extract-csv")).NotTo(Succeed())

			st := reopen()
			defer st.Close()
			_, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
		})

		It("hard-deletes the group and its versions with --force", func() {
			g := seed("extract-csv")

			Expect(run("delete", "extract-csv", "--force")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Deleted extract-csv"))

			st := reopen()
			defer st.Close()
			_, err := st.GetGroup(ctx, g.ID, false)
			Expect(store.IsNotFound(err)).To(BeTrue())
		})

		It("removes resource bundles along with the group", func() {
			resourceDir := filepath.Join(tmpDir, "resources")
			cfg := fmt.Sprintf("version = 1\n\n[storage]\nprovider = %q\nsqlite_path = %q\n\n[skills]\nresource_dir = %q\n",
				"sqlite", dbPath, resourceDir)
			Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(cfg), 0o644)).To(Succeed())

			g := seed("extract-csv")

			res, err := resourcefs.New(resourceDir)
			Expect(err).NotTo(HaveOccurred())
			st := reopen()
			uri, manifest, err := res.Save(ctx, g.ID, g.ProductionVersionID, []resources.File{
				{Name: "scripts/export.py", Content: []byte("print('hi')")},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(st.AttachResource(ctx, g.ProductionVersionID, uri, manifest)).To(Succeed())
			st.Close()

			Expect(run("delete", "extract-csv", "--force")).To(Succeed())

			_, err = os.Stat(filepath.Join(resourceDir, "skills", g.ID, g.ProductionVersionID))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})
	})

	Describe("rollback", func() {
		It("repoints production at an earlier version", func() {
			g := seed("extract-csv")

			st := reopen()
			v2 := &skill.Version{
				GroupID:         g.ID,
				Description:     "revised",
				MarkdownContent: "## revised",
			}
			Expect(st.CreateVersion(ctx, v2, true)).To(Succeed())
			st.Close()

			Expect(run("rollback", g.ID, "1")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("version 1"))

			st = reopen()
			defer st.Close()
			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersion.Version).To(Equal(1))
		})

		It("rejects a version the group does not have", func() {
			g := seed("extract-csv")
			Expect(run("rollback", g.ID, "5")).NotTo(Succeed())
		})
	})
})
